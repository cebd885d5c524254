package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/j-veylop/mosoblgaz-tui/internal/apierr"
)

func TestCompile_Nested(t *testing.T) {
	got := Compile([]Node{
		Section("me", Field("id")),
		Field("internalSystemStatuses"),
	})

	want := "{\n" +
		" me {\n" +
		"  id\n" +
		"  __typename\n" +
		" }\n" +
		" internalSystemStatuses\n" +
		"}"

	if got != want {
		t.Errorf("Compile() =\n%s\nwant\n%s", got, want)
	}
}

func TestCompile_DeepSectionsGetTypename(t *testing.T) {
	got := Compile([]Node{
		Section("a", Section("b", Field("c"))),
	})

	want := "{\n" +
		" a {\n" +
		"  b {\n" +
		"   c\n" +
		"   __typename\n" +
		"  }\n" +
		"  __typename\n" +
		" }\n" +
		"}"

	if got != want {
		t.Errorf("Compile() =\n%s\nwant\n%s", got, want)
	}
}

func TestTemplate_CompileWithVariables(t *testing.T) {
	tmpl := Template{
		Variables: []Variable{{Name: "number", Type: "String!"}, {Name: "limit", Type: "Int"}},
		Selection: []Node{
			SectionWithArgs("contract",
				[]Arg{{Param: "number", Variable: "number"}, {Param: "first", Variable: "limit"}},
				Field("alias"),
			),
		},
	}

	got := tmpl.Compile()
	want := "($number: String!, $limit: Int){\n" +
		" contract(number: $number, first: $limit) {\n" +
		"  alias\n" +
		"  __typename\n" +
		" }\n" +
		"}"

	if got != want {
		t.Errorf("Compile() =\n%s\nwant\n%s", got, want)
	}
}

func TestQuery_Prefix(t *testing.T) {
	text, err := Query(GetInternalSystemStatuses)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if !strings.HasPrefix(text, "query getInternalSystemStatuses {") {
		t.Errorf("unexpected prefix: %q", text[:40])
	}

	aliased, err := QueryAs(AccountsList, "contracts")
	if err != nil {
		t.Fatalf("QueryAs() failed: %v", err)
	}
	if !strings.HasPrefix(aliased, "query contracts {") {
		t.Errorf("unexpected prefix: %q", aliased[:30])
	}

	bare, err := Text(AccountsList)
	if err != nil {
		t.Fatalf("Text() failed: %v", err)
	}
	if !strings.HasPrefix(bare, "{") {
		t.Errorf("Text() should have no prefix, got %q", bare[:10])
	}
}

func TestQuery_ContractDevices(t *testing.T) {
	text := MustQuery(ContractDevices)

	for _, fragment := range []string{
		"query contractDevices ($number: String!){",
		"  contract(number: $number) {",
		"   calculationsAndPayments",
		"    Devices {",
		"     DateNextCheck",
		"   metersHistory {",
	} {
		if !strings.Contains(text, fragment) {
			t.Errorf("compiled query missing %q", fragment)
		}
	}

	if OperationName(text) != ContractDevices {
		t.Errorf("OperationName() = %q", OperationName(text))
	}
}

func TestQuery_Memoized(t *testing.T) {
	first, _ := Query(InitialData)
	second, _ := Query(InitialData)
	if first != second {
		t.Error("compiled text should be stable")
	}
	if len(compiledTemplates()) != len(templates) {
		t.Errorf("cache holds %d templates, want %d", len(compiledTemplates()), len(templates))
	}
}

func TestQuery_NotFound(t *testing.T) {
	_, err := Query("doesNotExist")
	if !errors.Is(err, apierr.ErrQueryNotFound) {
		t.Errorf("Query() error = %v, want QueryNotFound", err)
	}
	if !errors.Is(err, apierr.ErrMosoblgaz) {
		t.Error("QueryNotFound should match the root error")
	}
}

func TestOperationName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"query accountsList {\n}", "accountsList"},
		{"query contractDevices ($number: String!){", "contractDevices"},
		{"{ me { id } }", ""},
		{"query noSpace", ""},
		{"mutation x {", ""},
	}

	for _, tt := range tests {
		if got := OperationName(tt.text); got != tt.want {
			t.Errorf("OperationName(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestNames(t *testing.T) {
	names := Names()
	want := []string{AccountsList, ContractDevices, GetInternalSystemStatuses, InitialData, MessagesCount}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
