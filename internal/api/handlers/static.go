// static.go — монтирование директории blob'ов только на чтение.
package handlers

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

// blobFS — файловая система blob area без листингов директорий
// и без служебных файлов (имена с точкой в начале).
type blobFS struct {
	root http.FileSystem
}

func (b blobFS) Open(name string) (http.File, error) {
	if strings.HasPrefix(path.Base(name), ".") {
		return nil, fs.ErrNotExist
	}

	f, err := b.root.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// NewStaticHandler возвращает handler, отдающий blob'ы из dir по пути
// prefix + storedName. Директории (включая корень) отвечают 404.
func NewStaticHandler(prefix, dir string) http.Handler {
	prefix = "/" + strings.Trim(prefix, "/") + "/"
	return http.StripPrefix(prefix, http.FileServer(blobFS{root: http.Dir(dir)}))
}
