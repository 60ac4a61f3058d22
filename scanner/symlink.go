package scanner

import "os"

func symlinkTarget(path string) (string, error) {
	return os.Readlink(path)
}
