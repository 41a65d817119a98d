package rules

import "testing"

func mustParse(t *testing.T, src string) Node {
	t.Helper()
	n, err := parseExpr(src)
	if err != nil {
		t.Fatalf("parseExpr(%q): %v", src, err)
	}
	return n
}

func TestEvalEqualityAndConjunction(t *testing.T) {
	n := mustParse(t, `type == "service" and port == 443`)
	rec := map[string]interface{}{"type": "service", "port": float64(443)}
	if !Eval(n, rec) {
		t.Fatal("expected match")
	}
	rec2 := map[string]interface{}{"type": "service", "port": float64(80)}
	if Eval(n, rec2) {
		t.Fatal("expected no match on different port")
	}
}

func TestEvalDisjunction(t *testing.T) {
	n := mustParse(t, `service == "ssh" or service == "http"`)
	if !Eval(n, map[string]interface{}{"service": "http"}) {
		t.Fatal("expected match on http")
	}
	if Eval(n, map[string]interface{}{"service": "dns"}) {
		t.Fatal("expected no match on dns")
	}
}

func TestEvalNegation(t *testing.T) {
	n := mustParse(t, `not (type == "dns_record")`)
	if !Eval(n, map[string]interface{}{"type": "service"}) {
		t.Fatal("expected negation to match non-dns record")
	}
	if Eval(n, map[string]interface{}{"type": "dns_record"}) {
		t.Fatal("expected negation to reject dns record")
	}
}

func TestEvalInOperator(t *testing.T) {
	n := mustParse(t, `service in ["http", "https"]`)
	if !Eval(n, map[string]interface{}{"service": "https"}) {
		t.Fatal("expected in-list match")
	}
	if Eval(n, map[string]interface{}{"service": "ftp"}) {
		t.Fatal("expected no match for value outside list")
	}
}

func TestEvalMissingNameIsFalse(t *testing.T) {
	n := mustParse(t, `nonexistent_field == "x"`)
	if Eval(n, map[string]interface{}{"type": "service"}) {
		t.Fatal("expected missing-name comparison to evaluate to false")
	}
}

func TestEvalMissingNameAnywhereMakesWholeExpressionFalse(t *testing.T) {
	n := mustParse(t, `service == "http" or port == 22`)
	if Eval(n, map[string]interface{}{"service": "http"}) {
		t.Fatal("expected missing name in one disjunction branch to fail the whole match")
	}
	if !Eval(n, map[string]interface{}{"service": "http", "port": float64(80)}) {
		t.Fatal("expected match once every referenced name is present")
	}
}

func TestEvalNotEqual(t *testing.T) {
	n := mustParse(t, `type != "dns_record"`)
	if !Eval(n, map[string]interface{}{"type": "service"}) {
		t.Fatal("expected != to match differing value")
	}
}

func TestParseRejectsDisallowedSyntax(t *testing.T) {
	cases := []string{
		`foo.bar == 1`,       // attribute access
		`foo(1, 2)`,          // call - parses "foo" as name then stray tokens
		`1 + 2 == 3`,         // arithmetic
	}
	for _, c := range cases {
		if _, err := parseExpr(c); err == nil {
			t.Errorf("expected parse error for disallowed expression %q", c)
		}
	}
}
