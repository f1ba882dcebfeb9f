package binary

import "testing"

func TestInternRoundTrip(t *testing.T) {
	fn1 := Intern("_Z3fooi", "foo(int)")
	fn2 := Intern("_Z3fooi", "ignored on second call")

	if fn1 != fn2 {
		t.Fatalf("interning the same mangled name twice produced different handles")
	}
	if fn1.String() != "_Z3fooi" {
		t.Errorf("String() = %q, want %q", fn1.String(), "_Z3fooi")
	}
	if fn1.Demangled() != "foo(int)" {
		t.Errorf("Demangled() = %q, want %q", fn1.Demangled(), "foo(int)")
	}
}

func TestInternDistinctNames(t *testing.T) {
	a := Intern("a", "a")
	b := Intern("b", "b")
	if a == b {
		t.Fatalf("distinct mangled names interned to the same handle")
	}
}

func TestFunctionNameZeroValue(t *testing.T) {
	var fn FunctionName
	if !fn.IsZero() {
		t.Errorf("zero value FunctionName should report IsZero")
	}
	if Intern("x", "x").IsZero() {
		t.Errorf("interned name should not be zero")
	}
}
