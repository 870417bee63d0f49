package fil

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
	"github.com/zhukovaskychina/xmysql-dict/util"
)

const (
	IBDExt = ".ibd"
	ISLExt = ".isl"
)

var _ dict.TablespaceFiles = (*TablespaceFiles)(nil)

// TablespaceFiles 独立表空间的数据文件操作。
// 表名 db/t1 对应 <datadir>/db/t1.ibd；使用 DATA DIRECTORY 的表在
// <datadir>/db/t1.isl 中记录远程 .ibd 文件的路径
type TablespaceFiles struct {
	dataDir string

	mu     sync.Mutex
	spaces map[uint32]string // space_id -> 当前 .ibd 路径
}

// NewTablespaceFiles 创建文件操作对象
func NewTablespaceFiles(dataDir string) *TablespaceFiles {
	return &TablespaceFiles{
		dataDir: dataDir,
		spaces:  make(map[uint32]string),
	}
}

// DataDir 数据目录
func (f *TablespaceFiles) DataDir() string {
	return f.dataDir
}

// IBDPath 数据目录下的 .ibd 路径
func (f *TablespaceFiles) IBDPath(name string) string {
	return filepath.Join(f.dataDir, filepath.FromSlash(name)+IBDExt)
}

// ISLPath 数据目录下的 .isl 路径
func (f *TablespaceFiles) ISLPath(name string) string {
	return filepath.Join(f.dataDir, filepath.FromSlash(name)+ISLExt)
}

// RemoteIBDPath DATA DIRECTORY 下的 .ibd 路径
func RemoteIBDPath(remoteDir, name string) string {
	return filepath.Join(remoteDir, filepath.FromSlash(name)+IBDExt)
}

func (f *TablespaceFiles) filePath(name, remoteDir string) string {
	if remoteDir != "" {
		return RemoteIBDPath(remoteDir, name)
	}
	return f.IBDPath(name)
}

// CreateTablespace 创建空的 .ibd 文件，remoteDir 非空时同时写 .isl
func (f *TablespaceFiles) CreateTablespace(spaceID uint32, name, remoteDir string) error {
	path := f.filePath(name, remoteDir)
	exists, err := util.PathExists(path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if exists {
		return errors.WithMessagef(dict.ErrTablespaceExists, "%s", path)
	}
	if err := util.CreateDirIfNotExists(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if remoteDir != "" {
		if err := f.writeLink(name, path); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.spaces[spaceID] = path
	f.mu.Unlock()
	return nil
}

// RenameTablespace 重命名 .ibd 文件。
// 目标文件已存在时返回 dict.ErrTablespaceExists，dataDir 非空时改写 .isl。
// 数据文件不存在时删除目标位置的残留文件后返回 nil，缓存照常改名
func (f *TablespaceFiles) RenameTablespace(spaceID uint32, oldName, newName, dataDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath := f.filePath(oldName, dataDir)
	newPath := f.filePath(newName, dataDir)

	exists, err := util.PathExists(oldPath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", oldPath)
	}
	if !exists {
		logger.Warnf("Tablespace %d file %s does not exist, renaming %s to %s in the dictionary only",
			spaceID, oldPath, oldName, newName)
		return f.removeStale(spaceID, newName, newPath, dataDir)
	}

	exists, err = util.PathExists(newPath)
	if err != nil {
		return errors.Wrapf(err, "stat %s", newPath)
	}
	if exists {
		logger.Errorf("Cannot rename %s to %s because the target file exists", oldPath, newPath)
		return errors.WithMessagef(dict.ErrTablespaceExists, "%s", newPath)
	}

	if err := util.CreateDirIfNotExists(filepath.Dir(newPath)); err != nil {
		return errors.Wrapf(err, "create directory for %s", newPath)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return errors.Wrapf(err, "rename %s to %s", oldPath, newPath)
	}

	if dataDir != "" {
		if err := f.writeLink(newName, newPath); err != nil {
			// 回滚数据文件，保持和缓存一致
			if rerr := os.Rename(newPath, oldPath); rerr != nil {
				logger.Errorf("Cannot move %s back to %s: %v", newPath, oldPath, rerr)
			}
			return err
		}
		if _, err := util.DeleteFileIfExists(f.ISLPath(oldName)); err != nil {
			logger.Warnf("Cannot remove link file %s: %v", f.ISLPath(oldName), err)
		}
	}

	f.spaces[spaceID] = newPath
	logger.Infof("Renamed tablespace %d from %s to %s", spaceID, oldPath, newPath)
	return nil
}

// removeStale 删除改名目标位置上遗留的 .ibd 和 .isl，调用者持有 mu
func (f *TablespaceFiles) removeStale(spaceID uint32, newName, newPath, dataDir string) error {
	removed, err := util.DeleteFileIfExists(newPath)
	if err != nil {
		return errors.Wrapf(err, "delete stale %s", newPath)
	}
	if removed {
		logger.Warnf("Removed stale tablespace file %s", newPath)
	}
	if dataDir != "" {
		if _, err := util.DeleteFileIfExists(f.ISLPath(newName)); err != nil {
			return errors.Wrapf(err, "delete stale link file for %s", newName)
		}
	}
	delete(f.spaces, spaceID)
	return nil
}

func (f *TablespaceFiles) writeLink(name, target string) error {
	link := f.ISLPath(name)
	if err := util.WriteFileAtomic(link, []byte(target+"\n")); err != nil {
		return errors.Wrapf(err, "write link file %s", link)
	}
	return nil
}

// ReadLink 读取 .isl 中记录的远程路径，文件不存在时返回空串
func (f *TablespaceFiles) ReadLink(name string) (string, error) {
	data, err := os.ReadFile(f.ISLPath(name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read link file for %s", name)
	}
	return strings.TrimSpace(string(data)), nil
}

// SpacePath 表空间当前的文件路径
func (f *TablespaceFiles) SpacePath(spaceID uint32) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path, ok := f.spaces[spaceID]
	return path, ok
}

// DeleteTablespace 删除 .ibd 和 .isl 文件
func (f *TablespaceFiles) DeleteTablespace(spaceID uint32, name, remoteDir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.filePath(name, remoteDir)
	if _, err := util.DeleteFileIfExists(path); err != nil {
		return errors.Wrapf(err, "delete %s", path)
	}
	if remoteDir != "" {
		if _, err := util.DeleteFileIfExists(f.ISLPath(name)); err != nil {
			return errors.Wrapf(err, "delete link file for %s", name)
		}
	}
	delete(f.spaces, spaceID)
	return nil
}
