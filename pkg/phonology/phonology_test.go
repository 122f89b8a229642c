package phonology

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
)

func TestParseTests(t *testing.T) {
	script := `# French plural deletion
define phonology s -> 0 || _ "#";

#test chiens -> chien
#test chats -> chat
#test chiens -> chiem
not-a-test line
#test noarrow
`
	cases := ParseTests(script)
	require.Len(t, cases, 2)
	assert.Equal(t, "chiens", cases[0].Input)
	assert.Equal(t, []string{"chien", "chiem"}, cases[0].Expected,
		"repeated inputs accumulate expected outputs")
	assert.Equal(t, "chats", cases[1].Input)
	assert.Equal(t, []string{"chat"}, cases[1].Expected)
}

func TestParseTestsSplitsAlternatives(t *testing.T) {
	cases := ParseTests("#test aaa -> bbb\n#test chat -> sa, Sa")
	require.Len(t, cases, 2)
	assert.Equal(t, "aaa", cases[0].Input)
	assert.Equal(t, []string{"bbb"}, cases[0].Expected)
	assert.Equal(t, "chat", cases[1].Input)
	assert.Equal(t, []string{"sa", "Sa"}, cases[1].Expected,
		"comma-separated surfaces are distinct alternatives")
}

func TestParseTestsNormalizesUnicode(t *testing.T) {
	// A composed e-acute in the script must match decomposed FST output.
	composed := "café"
	cases := ParseTests("#test " + composed + " -> " + composed + "s")
	require.Len(t, cases, 1)
	assert.Equal(t, norm.NFD.String(composed), cases[0].Input)
	assert.Equal(t, norm.NFD.String(composed+"s"), cases[0].Expected[0])
}

func TestTestResultPassed(t *testing.T) {
	assert.True(t, TestResult{
		Expected: []string{"chien", "chiem"},
		Actual:   []string{"chiem"},
	}.Passed())
	assert.False(t, TestResult{
		Expected: []string{"chien"},
		Actual:   []string{"chat"},
	}.Passed())
	assert.False(t, TestResult{Expected: []string{"chien"}}.Passed())
}

func TestWriteScriptNormalizes(t *testing.T) {
	l := layout.New(t.TempDir())
	e := NewEngine(nil, l, nil, nil)

	p := &model.Phonology{ID: 4, Script: "define phonology é -> e;"}
	path, err := e.WriteScript(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "phonologies", "phonology_4", "phonology_4.script"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, norm.NFD.String(p.Script), string(raw))
	assert.NotEqual(t, p.Script, string(raw), "script stored decomposed")
}

func TestRunTestsRequiresTests(t *testing.T) {
	e := NewEngine(nil, layout.New(t.TempDir()), nil, nil)
	_, err := e.RunTests(context.Background(), &model.Phonology{ID: 1, Script: "define phonology a -> b;"})
	assert.ErrorIs(t, err, ErrNoTests)
}

func TestApplyDownRequiresBinary(t *testing.T) {
	e := NewEngine(nil, layout.New(t.TempDir()), nil, nil)
	_, err := e.ApplyDown(context.Background(), &model.Phonology{ID: 2}, []string{"chien"})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}
