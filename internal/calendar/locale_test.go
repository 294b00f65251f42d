package calendar

import "testing"

func TestSpanishDayLabel(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"2024-03-12", "Mar 12 Marzo"},
		{"2024-03-10", "Dom 10 Marzo"},
		{"2024-03-16", "Sáb 16 Marzo"},
		{"2024-01-03", "Mié 3 Enero"},
		{"2024-12-31", "Mar 31 Diciembre"},
		{"not-a-date", "not-a-date"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := Spanish.DayLabel(tt.key); got != tt.want {
				t.Errorf("DayLabel(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
