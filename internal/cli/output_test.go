package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
)

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{Format: "json", Out: &buf}

	require.NoError(t, p.Success(SearchResult{Model: "res.partner", IDs: []int64{3, 1}}))
	var ok Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ok))
	assert.Equal(t, "ok", ok.Status)
	assert.Nil(t, ok.Error)
	assert.Equal(t, map[string]any{"model": "res.partner", "ids": []any{3.0, 1.0}}, ok.Data)

	buf.Reset()
	require.NoError(t, p.Error("VALIDATION", "age must be positive", map[string]string{"field": "age"}))
	var failed Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &failed))
	assert.Equal(t, "error", failed.Status)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "VALIDATION", failed.Error.Code)
	assert.Equal(t, "age must be positive", failed.Error.Message)
	assert.Equal(t, map[string]any{"field": "age"}, failed.Error.Details)
}

func TestPrinter_TextSuccess(t *testing.T) {
	count := int64(4)
	tests := []struct {
		name string
		data any
		want string
	}{
		{"plain value", "all models valid", "all models valid\n"},
		{"ids", SearchResult{IDs: []int64{2, 1}}, "2\n1\n"},
		{"count", SearchResult{Count: &count}, "4\n"},
		{"rows", ReadResult{Model: "res.tag", Rows: []map[string]any{{"id": 7, "name": "vip", "color": 2}}},
			"res.tag(7)\n  color: 2\n  name: vip\n"},
		{"compiled", CompilationResult{From: `"res_tag"`, Where: `("res_tag"."name" = ?)`, Params: []any{"vip"}},
			"FROM \"res_tag\"\nWHERE (\"res_tag\".\"name\" = ?)\nPARAMS [vip]\n"},
		{"init", InitResult{Database: "x.db", Models: []string{"res.tag"}}, "✓ Initialized 1 model(s) in x.db\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := &Printer{Format: "text", Out: &buf}
			require.NoError(t, p.Success(tt.data))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_TextError(t *testing.T) {
	details := map[string]string{"file": "models.yaml"}
	for _, verbose := range []bool{false, true} {
		var buf bytes.Buffer
		p := &Printer{Format: "text", Out: &buf, Verbose: verbose}
		require.NoError(t, p.Error(ErrCodeLoadFailed, "definitions invalid", details))

		assert.Contains(t, buf.String(), "Error [E004]: definitions invalid")
		if verbose {
			assert.Contains(t, buf.String(), "Details:")
		} else {
			assert.NotContains(t, buf.String(), "Details:")
		}
	}
}

func TestPrinter_Debugf(t *testing.T) {
	var out, diag bytes.Buffer

	quiet := &Printer{Format: "json", Out: &out, Diag: &diag}
	quiet.Debugf("loaded %s", "models.yaml")
	assert.Empty(t, out.String())
	assert.Empty(t, diag.String())

	loud := &Printer{Format: "json", Out: &out, Diag: &diag, Verbose: true}
	loud.Debugf("loaded %s", "models.yaml")
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
	assert.Equal(t, "loaded models.yaml\n", diag.String())

	noDiag := &Printer{Format: "text", Out: &out, Verbose: true}
	noDiag.Debugf("fallback")
	assert.Equal(t, "fallback\n", out.String())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"load error", &LoadError{Code: ErrCodeNotFound, Message: "missing"}, ErrCodeNotFound},
		{"unknown model", &model.UnknownModelError{Code: model.ErrCodeUnknownModel, Model: "res.nothing"}, "UNKNOWN_MODEL"},
		{"domain syntax", domain.NewSyntaxError(0, "bad"), "DOMAIN_SYNTAX"},
		{"access", &security.AccessError{Code: security.ErrCodeAccess}, "ACCESS"},
		{"plain", errors.New("boom"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestFail_ExitCodes(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	err := fail(p, &LoadError{Code: ErrCodeNotFound, Message: "definitions not found"})
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)

	buf.Reset()
	err = fail(p, domain.NewSyntaxError(0, "bad leaf"))
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "DOMAIN_SYNTAX", resp.Error.Code)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))
}
