package sanitize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opencode-studio/gateway/internal/model"
)

func TestPartSanitizationIsIdempotent(t *testing.T) {
	s := DefaultSettings()
	long := make([]byte, s.TruncateAt*2)
	for i := range long {
		long[i] = 'a'
	}
	p := model.Part{ID: "p1", Type: model.PartText, Text: string(long)}

	once := Part(p, s)
	twice := Part(once, s)

	require.Equal(t, once, twice)
}

func TestPatchPartReplacesFilesWithFileCount(t *testing.T) {
	s := DefaultSettings()
	p := model.Part{ID: "p1", Type: model.PartPatch, Files: []byte(`[{"path":"a.go"},{"path":"b.go"}]`)}

	narrowed := Part(p, s)
	require.Equal(t, 2, narrowed.FileCount)
	require.Empty(t, narrowed.Files)
}

func TestSessionNarrowingIsIdempotent(t *testing.T) {
	in := SessionInput{ID: "ses_1", Directory: "/a", Title: "hi", ShareURL: "https://x"}
	once := Session(in)

	again := Session(SessionInput{
		ID: once.ID, Directory: once.Directory, Title: once.Title,
		ShareURL: once.Share.URL,
	})
	require.Equal(t, once, again)
}
