package util

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// notExist 把"不存在"从错误里分离出来
func notExist(err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, fs.ErrNotExist):
		return true, nil
	default:
		return false, err
	}
}

// PathExists 文件或目录是否存在
func PathExists(path string) (bool, error) {
	_, statErr := os.Stat(path)
	missing, err := notExist(statErr)
	return !missing && err == nil, err
}

// CreateDirIfNotExists 创建目录(含父目录)
func CreateDirIfNotExists(dir string) error {
	ok, err := PathExists(dir)
	if ok || err != nil {
		return err
	}
	return errors.Wrapf(os.MkdirAll(dir, 0755), "mkdir %s", dir)
}

// DeleteFileIfExists 删除文件，文件本来就不存在时返回 false
func DeleteFileIfExists(path string) (bool, error) {
	missing, err := notExist(os.Remove(path))
	return !missing && err == nil, err
}

// WriteFileAtomic 写到 path.tmp 后 rename 到 path
func WriteFileAtomic(path string, data []byte) error {
	if err := CreateDirIfNotExists(filepath.Dir(path)); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %s", tmp)
}
