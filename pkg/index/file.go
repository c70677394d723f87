package index

import (
	"fmt"
	"os"
)

func openFileForTailing(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: open %q: %w", path, err)
	}
	return f, nil
}

func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("index: stat %q: %w", f.Name(), err)
	}
	return info.Size(), nil
}
