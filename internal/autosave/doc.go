// Package autosave fires an auto save when the in-game clock crosses a fixed
// time of day.
//
// A crossing is detected on the half-open interval (old, new], so reaching
// the threshold exactly fires and leaving it does not. A jump over several
// days fires once. The last fired threshold instance debounces duplicate or
// overlapping clock notifications.
//
// When the save manager is busy the save is deferred to a goroutine that
// waits for it; when the world is not savable the crossing stays pending and
// is retried on the next clock event or Retry.
package autosave
