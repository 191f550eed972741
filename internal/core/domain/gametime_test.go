package domain

import "testing"

func TestGameTime_AbsoluteMinutes(t *testing.T) {
	tests := []struct {
		in   GameTime
		want int
	}{
		{GameTime{Day: 0, Hour: 0, Minute: 0}, 0},
		{GameTime{Day: 1, Hour: 5, Minute: 0}, 1440 + 300},
		{GameTime{Day: 2, Hour: 23, Minute: 59}, 2*1440 + 23*60 + 59},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			if got := tt.in.AbsoluteMinutes(); got != tt.want {
				t.Errorf("AbsoluteMinutes() = %d, want %d", got, tt.want)
			}
			if back := GameTimeFromMinutes(tt.want); back != tt.in {
				t.Errorf("GameTimeFromMinutes() = %v, want %v", back, tt.in)
			}
		})
	}
}

func TestGameTime_AddWrapsDays(t *testing.T) {
	start := GameTime{Day: 1, Hour: 23, Minute: 0}
	got := start.Add(420)
	want := GameTime{Day: 2, Hour: 6, Minute: 0}
	if got != want {
		t.Errorf("Add(420) = %v, want %v", got, want)
	}
	if back := got.Add(-420); back != start {
		t.Errorf("Add(-420) = %v, want %v", back, start)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{7, 2, 3},
		{-7, 2, -4},
		{-8, 2, -4},
		{0, 1440, 0},
		{-1, 1440, -1},
	}
	for _, tt := range tests {
		if got := FloorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("FloorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"05:00", 300, false},
		{"00:00", 0, false},
		{" 23:59 ", 1439, false},
		{"24:00", 0, true},
		{"5", 0, true},
		{"05:60", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimeOfDay() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay() = %d, want %d", got, tt.want)
			}
		})
	}
}
