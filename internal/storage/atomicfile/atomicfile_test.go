package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

// TestWriteFile проверяет запись и перезапись без временных файлов.
func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")

	if err := WriteFile(path, []byte(`{"v":1}`), 0o640); err != nil {
		t.Fatalf("первая запись: %v", err)
	}
	if err := WriteFile(path, []byte(`{"v":2}`), 0o640); err != nil {
		t.Fatalf("перезапись: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("содержимое %s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("временный файл не удалён")
	}
}

// TestWriteFile_MissingDir проверяет ошибку при отсутствии директории.
func TestWriteFile_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "doc.json")
	if err := WriteFile(path, []byte("x"), 0o640); err == nil {
		t.Error("ожидалась ошибка")
	}
}
