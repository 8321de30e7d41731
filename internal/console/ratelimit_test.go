package console

import "testing"

func TestTenantLimiter(t *testing.T) {
	l := newTenantLimiter(1, 2)
	if !l.allow("contoso") || !l.allow("contoso") {
		t.Fatal("burst should be allowed")
	}
	if l.allow("contoso") {
		t.Fatal("third write within a minute should be refused")
	}
	if !l.allow("fabrikam") {
		t.Fatal("tenants have separate budgets")
	}
}

func TestTenantLimiterDisabled(t *testing.T) {
	l := newTenantLimiter(0, 5)
	if l != nil {
		t.Fatal("non-positive rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !l.allow("contoso") {
			t.Fatal("nil limiter must allow everything")
		}
	}
}
