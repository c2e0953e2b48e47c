package docker

import (
	"strings"
	"testing"

	"github.com/HyphaGroup/assimilate/internal/container"
)

func TestWorkerHostConfig(t *testing.T) {
	hc, err := workerHostConfig(container.WorkerSpec{Memory: "1G", CPUs: 2})
	if err != nil {
		t.Fatalf("workerHostConfig: %v", err)
	}
	if hc.Init == nil || !*hc.Init {
		t.Error("workers must run under an init process")
	}
	if hc.Memory != 1<<30 {
		t.Errorf("Memory = %d, want %d", hc.Memory, 1<<30)
	}
	if hc.NanoCPUs != 2e9 {
		t.Errorf("NanoCPUs = %d, want %d", hc.NanoCPUs, int64(2e9))
	}

	if _, err := workerHostConfig(container.WorkerSpec{Memory: "plenty"}); err == nil {
		t.Error("expected an error for an unparsable memory limit")
	}
}

func TestDrainPull(t *testing.T) {
	ok := `{"status":"Pulling fs layer","id":"a1"}
{"status":"Download complete","id":"a1"}
{"status":"Status: Downloaded newer image"}`
	if err := drainPull(strings.NewReader(ok)); err != nil {
		t.Errorf("drainPull: %v", err)
	}

	failed := `{"status":"Pulling fs layer","id":"a1"}
{"error":"manifest unknown"}`
	err := drainPull(strings.NewReader(failed))
	if err == nil || !strings.Contains(err.Error(), "manifest unknown") {
		t.Errorf("drainPull error = %v, want manifest unknown", err)
	}

	if err := drainPull(strings.NewReader("{not json")); err == nil {
		t.Error("expected a decode error")
	}
}
