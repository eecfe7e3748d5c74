package artifactstore

import "testing"

func TestBuildAndVerifyRoundTrip(t *testing.T) {
	a, err := Build([]byte("fake-model-bytes"), []string{"ret_1", "rsi_14"}, map[string]any{"auc": 0.77})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	ok, err := a.Verify()
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected checksum to verify")
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	a, _ := Build([]byte("fake-model-bytes"), nil, map[string]any{"auc": 0.5})
	a.Metrics["auc"] = 0.99
	ok, err := a.Verify()
	if err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if ok {
		t.Fatal("expected tampered metrics to fail verification")
	}
}
