package helpers

import "testing"

func TestValidateCron(t *testing.T) {
	for _, c := range []string{"0 3 * * *", "0 */1 * * *", "@hourly", "@every 30m"} {
		if err := ValidateCron(c); err != nil {
			t.Fatalf("expected %q to be valid, got error: %v", c, err)
		}
	}
	for _, c := range []string{"0 3 * *", "", "61 * * * *", "@sometimes"} {
		if err := ValidateCron(c); err == nil {
			t.Fatalf("expected error for %q, got nil", c)
		}
	}
}
