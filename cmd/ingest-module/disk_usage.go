// Ёмкость файловой системы blob area для /api/v1/info (Unix).
package main

import (
	"fmt"
	"syscall"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
)

// blobAreaUsage возвращает DiskUsageFunc для директории blob'ов.
// used считается по свободным блокам (Bfree), available — по доступным
// непривилегированному процессу (Bavail): резерв root в available не входит.
func blobAreaUsage(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		var st syscall.Statfs_t
		if err := syscall.Statfs(dataDir, &st); err != nil {
			return 0, 0, 0, fmt.Errorf("statfs %s: %w", dataDir, err)
		}
		bsize := int64(st.Bsize)
		total := int64(st.Blocks) * bsize
		used := total - int64(st.Bfree)*bsize
		return total, used, int64(st.Bavail) * bsize, nil
	}
}
