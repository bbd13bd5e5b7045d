package resources

import "testing"

func TestReadFile(t *testing.T) {
	data, err := ReadFile("about/help.gmi")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty help page")
	}
}

func TestExists(t *testing.T) {
	if !Exists("about/help.gmi") {
		t.Error("expected about/help.gmi to exist")
	}
	if Exists("about/does-not-exist.gmi") {
		t.Error("expected missing resource to report false")
	}
}
