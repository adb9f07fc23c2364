package phone

import "testing"

func TestMSISDN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"+254 712 345 678", "254712345678"},
		{"254712345678", "254712345678"},
		{"712345678", "254712345678"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := MSISDN(tt.in); got != tt.want {
				t.Errorf("MSISDN(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLast9(t *testing.T) {
	if got := Last9("0712-345-678"); got != "712345678" {
		t.Errorf("Last9 = %q, want 712345678", got)
	}
	if got := Last9("+254712345678"); got != "712345678" {
		t.Errorf("Last9 = %q, want 712345678", got)
	}
	if got := Last9("079****635"); got != "" {
		t.Errorf("Last9 of masked number = %q, want empty", got)
	}
}
