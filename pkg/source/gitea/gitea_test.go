package gitea

import "testing"

func TestParseChangedFilesExtractsPathsFromUnifiedDiff(t *testing.T) {
	diff := []byte(`diff --git a/foo.go b/foo.go
index 111..222 100644
--- a/foo.go
+++ b/foo.go
@@ -1 +1 @@
-old
+new
diff --git a/bar.go b/bar.go
new file mode 100644
--- /dev/null
+++ b/bar.go
@@ -0,0 +1 @@
+new file
`)
	files := parseChangedFiles(diff)
	if len(files) != 2 || files[0] != "foo.go" || files[1] != "bar.go" {
		t.Fatalf("unexpected files: %v", files)
	}
}

func TestSplitOwnerRepoRejectsMalformedNames(t *testing.T) {
	a := &Adapter{name: "gitea"}
	if _, _, err := a.splitOwnerRepo("noslash"); err == nil {
		t.Fatalf("expected an error for a name without a slash")
	}
	owner, repo, err := a.splitOwnerRepo("org/repo")
	if err != nil {
		t.Fatalf("splitOwnerRepo: %v", err)
	}
	if owner != "org" || repo != "repo" {
		t.Fatalf("got owner=%q repo=%q", owner, repo)
	}
}
