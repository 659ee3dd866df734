package diffutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleDiff = `diff --git a/foo.go b/foo.go
index 1111111..2222222 100644
--- a/foo.go
+++ b/foo.go
@@ -1,3 +1,4 @@
 package foo
+
 func Foo() {
-	return
+	return nil
 }
diff --git a/bar.go b/bar.go
new file mode 100644
index 0000000..3333333
--- /dev/null
+++ b/bar.go
@@ -0,0 +1,2 @@
+package foo
+func Bar() {}
`

func TestExtractAffectedFiles_ParsesMultipleFiles(t *testing.T) {
	v := NewGitApplyValidator()
	files := v.ExtractAffectedFiles(sampleDiff)

	if assert.Len(t, files, 2) {
		assert.Equal(t, "foo.go", files[0].Path)
		assert.Equal(t, "modified", files[0].Operation)
		assert.Equal(t, "bar.go", files[1].Path)
		assert.Equal(t, "added", files[1].Operation)
	}
}

func TestExtractAffectedFiles_EmptyInputYieldsNoFiles(t *testing.T) {
	v := NewGitApplyValidator()
	assert.Empty(t, v.ExtractAffectedFiles(""))
	assert.Empty(t, v.ExtractAffectedFiles("not a diff at all"))
}

func TestExtractAffectedFiles_CountsAddedAndRemovedLines(t *testing.T) {
	v := NewGitApplyValidator()
	files := v.ExtractAffectedFiles(sampleDiff)
	if assert.Len(t, files, 2) {
		assert.Equal(t, 2, files[0].Added)
		assert.Equal(t, 1, files[0].Removed)
	}
}
