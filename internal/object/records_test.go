package object

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCall() FunctionCall {
	return FunctionCall{
		ID:        "0191d2a0-0000-7000-8000-000000000001",
		SessionID: "0191d2a0-0000-7000-8000-0000000000aa",
		Function:  "app.Total",
		File:      "app/total.go",
		Line:      12,
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFunctionCallOutcome(t *testing.T) {
	call := validCall()
	assert.Equal(t, OutcomePending, call.Outcome())
	assert.False(t, call.Completed())

	call.EndTime = call.StartTime.Add(time.Millisecond)
	call.ReturnValue = MustKeyFor(Primitive{Value: Int(5)})
	assert.Equal(t, OutcomeReturned, call.Outcome())
	assert.True(t, call.Completed())

	call.ReturnValue = ""
	call.Exception = "division by zero"
	assert.Equal(t, OutcomeRaised, call.Outcome())
}

func TestFunctionCallValidate(t *testing.T) {
	require.NoError(t, validCall().Validate())

	missingID := validCall()
	missingID.ID = ""
	assert.Error(t, missingID.Validate())

	missingSession := validCall()
	missingSession.SessionID = ""
	assert.Error(t, missingSession.Validate())

	missingFunction := validCall()
	missingFunction.Function = ""
	assert.Error(t, missingFunction.Validate())

	badLocal := validCall()
	badLocal.Locals = map[string]Key{"x": "bogus"}
	assert.Error(t, badLocal.Validate())
}

func TestFunctionCallLineageIsExclusive(t *testing.T) {
	// A call is created either by a caller inside the session or by a
	// replay branch, never both.
	call := validCall()
	call.InvokedBy = "0191d2a0-0000-7000-8000-000000000002"
	require.NoError(t, call.Validate())

	call.BranchedFrom = "0191d2a0-0000-7000-8000-000000000003"
	err := call.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoked_by and branched_from")
}

func TestStackSnapshotValidate(t *testing.T) {
	snap := StackSnapshot{
		ID:       "0191d2a0-0000-7000-8000-000000000010",
		CallID:   "0191d2a0-0000-7000-8000-000000000001",
		Line:     14,
		Position: 0,
	}
	require.NoError(t, snap.Validate())

	snap.Position = -1
	assert.Error(t, snap.Validate())

	snap.Position = 0
	snap.CallID = ""
	assert.Error(t, snap.Validate())
}

func TestMonitoringSessionActive(t *testing.T) {
	sess := MonitoringSession{
		ID:        "0191d2a0-0000-7000-8000-0000000000aa",
		Name:      "checkout",
		StartTime: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, sess.Validate())
	assert.True(t, sess.Active())

	sess.EndTime = sess.StartTime.Add(time.Second)
	assert.False(t, sess.Active())
}

func TestCodeDefinitionValidate(t *testing.T) {
	def, err := NewCodeDefinition("app/billing", "Total", CodeFunction, "func Total() int { return 0 }", 10)
	require.NoError(t, err)
	require.NoError(t, def.Validate())
	assert.Equal(t, CodeDefinitionID("app/billing", "Total", "func Total() int { return 0 }"), def.ID)

	_, err = NewCodeDefinition("app/billing", "", CodeFunction, "src", 1)
	assert.Error(t, err)

	_, err = NewCodeDefinition("app/billing", "Total", CodeKind("macro"), "src", 1)
	assert.Error(t, err)

	_, err = NewCodeDefinition("app/billing", "Total", CodeFunction, "", 1)
	assert.Error(t, err)
}

func TestStoredObjectVerify(t *testing.T) {
	p := Primitive{Value: String("payload")}
	canonical, err := MarshalCanonical(p)
	require.NoError(t, err)

	obj := StoredObject{
		Key:       KeyForCanonical(canonical),
		Kind:      KindPrimitive,
		Canonical: canonical,
	}
	require.NoError(t, obj.Verify())

	decoded, err := obj.Decode()
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	obj.Canonical = []byte(`{"kind":"primitive","type":"null"}`)
	assert.Error(t, obj.Verify(), "tampered bytes must fail verification")
}
