package exec

import (
	"testing"

	xerrors "AgentMarket/internal/errors"
)

func TestExecutionCodesRegistered(t *testing.T) {
	dispatch := xerrors.AttributesOf(CodeExecutionDispatch)
	if dispatch.Severity != xerrors.SeverityWarning {
		t.Fatalf("派发失败严重级别 = %s, want %s", dispatch.Severity, xerrors.SeverityWarning)
	}
	if !dispatch.Alert {
		t.Fatalf("派发失败应触发告警")
	}
	if dispatch.Retryable {
		t.Fatalf("派发失败不应标记为可重试")
	}

	for _, code := range []xerrors.Code{CodeExecutionNotFound, CodeExecutionFinished} {
		if attr := xerrors.AttributesOf(code); attr.Severity != xerrors.SeverityInfo {
			t.Fatalf("%s 严重级别 = %s, want %s", code, attr.Severity, xerrors.SeverityInfo)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(StatusPending) || IsTerminal(StatusExecuting) {
		t.Fatalf("pending/executing 不应是终态")
	}
	if !IsTerminal(StatusCompleted) || !IsTerminal(StatusFailed) {
		t.Fatalf("completed/failed 应是终态")
	}
}
