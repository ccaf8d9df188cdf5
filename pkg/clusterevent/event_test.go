package clusterevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverity_AtLeast(t *testing.T) {
	cases := []struct {
		severity Severity
		floor    Severity
		want     bool
	}{
		{Critical, Warning, true},
		{Warning, Warning, true},
		{Info, Warning, false},
		{Critical, Critical, true},
		{Info, Info, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.severity.AtLeast(tc.floor), "%s.AtLeast(%s)", tc.severity, tc.floor)
	}
}

func TestKind_IsValid(t *testing.T) {
	assert.True(t, CrashLoop.IsValid())
	assert.True(t, AlertmanagerFiring.IsValid())
	assert.False(t, Kind("Bogus").IsValid())
}

func TestNew_TruncatesAnnotations(t *testing.T) {
	annotations := make(map[string]string, 32)
	for i := 0; i < 32; i++ {
		annotations[string(rune('a'+i))] = "v"
	}
	e := New(CrashLoop, Critical, "Pod", "default", "api-1", time.Now(), annotations)
	assert.LessOrEqual(t, len(e.Annotations), maxAnnotations)
}

func TestNew_NilAnnotationsStaysNil(t *testing.T) {
	e := New(OOMKilled, Warning, "Pod", "default", "api-1", time.Now(), nil)
	assert.Nil(t, e.Annotations)
}

func TestKeyOf(t *testing.T) {
	e := Event{Kind: NotReadyNode, ResourceKind: "Node", Namespace: "", ResourceName: "node-1"}
	key := KeyOf(e)
	assert.Equal(t, KnownIssueKey{ResourceKind: "Node", Namespace: "", ResourceName: "node-1", Kind: NotReadyNode}, key)
}
