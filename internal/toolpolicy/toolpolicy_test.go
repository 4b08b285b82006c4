package toolpolicy

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestResolveDefaultsToAsk(t *testing.T) {
	p := New(nil, nil)
	if got := p.Resolve("unknown_tool", nil); got != Ask {
		t.Errorf("Resolve() = %v, want Ask", got)
	}
}

func TestResolveHonorsAllowAndDeny(t *testing.T) {
	p := New([]string{"read_file"}, []string{"rm_rf"})

	if got := p.Resolve("read_file", nil); got != Allow {
		t.Errorf("Resolve(read_file) = %v, want Allow", got)
	}
	if got := p.Resolve("rm_rf", nil); got != Deny {
		t.Errorf("Resolve(rm_rf) = %v, want Deny", got)
	}
}

func TestResolveDenyWinsWhenToolIsMisconfiguredIntoBothLists(t *testing.T) {
	p := New([]string{"edit_file"}, []string{"edit_file"})
	if got := p.Resolve("edit_file", nil); got != Deny {
		t.Errorf("Resolve() = %v, want Deny (deny takes precedence)", got)
	}
}

func TestValidateArgsNoDeclaredSchemaPasses(t *testing.T) {
	p := New(nil, nil)
	if err := p.ValidateArgs("anything", json.RawMessage(`{}`)); err != nil {
		t.Errorf("ValidateArgs() error = %v, want nil", err)
	}
}

func TestValidateArgsRejectsMissingRequiredField(t *testing.T) {
	p := &Policy{allow: map[string]Entry{}, deny: map[string]Entry{}}
	p.RegisterSchema("write_file", Allow, mcp.NewTool("write_file",
		mcp.WithString("path", mcp.Required()),
	))

	if err := p.ValidateArgs("write_file", json.RawMessage(`{}`)); err == nil {
		t.Error("ValidateArgs() error = nil, want error for missing required \"path\"")
	}
	if err := p.ValidateArgs("write_file", json.RawMessage(`{"path":"a.txt"}`)); err != nil {
		t.Errorf("ValidateArgs() error = %v, want nil", err)
	}
}

func TestValidateArgsRejectsMalformedJSON(t *testing.T) {
	p := &Policy{allow: map[string]Entry{}, deny: map[string]Entry{}}
	p.RegisterSchema("write_file", Allow, mcp.NewTool("write_file", mcp.WithString("path", mcp.Required())))

	if err := p.ValidateArgs("write_file", json.RawMessage(`not json`)); err == nil {
		t.Error("ValidateArgs() error = nil, want error for malformed JSON")
	}
}

func TestDecisionString(t *testing.T) {
	cases := map[Decision]string{Allow: "allow", Deny: "deny", Ask: "ask", Decision(99): "unknown"}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", d, got, want)
		}
	}
}
