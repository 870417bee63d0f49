package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhukovaskychina/xmysql-dict/logger"
	"github.com/zhukovaskychina/xmysql-dict/server/conf"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/catalog"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/dict"
	"github.com/zhukovaskychina/xmysql-dict/server/innodb/manager"
)

var (
	configPath  string
	catalogPath string
	logStderr   bool
	save        bool
	evictMax    int
	evictPct    int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "xdict",
	Short:         "InnoDB data dictionary cache tool",
	Long:          `Load table definitions from a catalog file into the dictionary cache and inspect or change them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables in the catalog",
	Args:  cobra.NoArgs,
	RunE:  runTables,
}

var showCmd = &cobra.Command{
	Use:   "show <db/table>",
	Short: "Open a table and print its cached definition",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var fkCmd = &cobra.Command{
	Use:   "fk <db/table>",
	Short: "Print the foreign keys of a table",
	Args:  cobra.ExactArgs(1),
	RunE:  runForeignKeys,
}

var renameCmd = &cobra.Command{
	Use:   "rename <db/old> <db/new>",
	Short: "Rename a table in the cache and the catalog",
	Args:  cobra.ExactArgs(2),
	RunE:  runRename,
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Load every table and evict down to table_definition_cache",
	Args:  cobra.NoArgs,
	RunE:  runEvict,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "my.ini path (default conf/my.ini)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "catalog.toml", "table definition catalog")
	rootCmd.PersistentFlags().BoolVar(&logStderr, "log-stderr", true, "write logs to stderr instead of log files")
	renameCmd.Flags().BoolVar(&save, "save", false, "write the renamed catalog back to disk")
	evictCmd.Flags().IntVar(&evictMax, "max", -1, "maximum evictable tables (default table_definition_cache)")
	evictCmd.Flags().IntVar(&evictPct, "pct", 0, "percentage of the LRU tail to scan (default lru_scan_pct)")

	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(fkCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(evictCmd)
}

// setup 读取配置、初始化日志并加载目录
func setup() (*manager.DictionaryManager, *catalog.TOMLLoader, error) {
	cfg, err := conf.NewCfg().Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logConfig := logger.LogConfig{
		ErrorLogPath:      cfg.LogError,
		InfoLogPath:       cfg.LogInfos,
		ForeignKeyLogPath: cfg.LogForeignKey,
		LogLevel:          cfg.LogLevel,
	}
	if logStderr {
		logConfig.Output = os.Stderr
	}
	if err := logger.InitLogger(logConfig); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	loader, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	// 命令行一次性运行，不需要后台淘汰
	cfg.EvictionInterval = 0
	dm, err := manager.NewDictionaryManager(cfg, loader, loader)
	if err != nil {
		return nil, nil, err
	}
	return dm, loader, nil
}

func runTables(cmd *cobra.Command, args []string) error {
	loader, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return err
	}
	for _, name := range loader.TableNames() {
		fmt.Println(name)
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	dm, _, err := setup()
	if err != nil {
		return err
	}
	defer dm.Close()

	table, err := dm.OpenTableByName(args[0])
	if err != nil {
		return err
	}
	defer dm.Dict().CloseTable(table, false, false)

	fmt.Printf("Table: %s (id %d, space %d)\n", table.Name, table.ID, table.SpaceID)
	fmt.Println("Columns:")
	for _, col := range table.Cols {
		fmt.Printf("  %-20s mtype=%d prtype=%#x len=%d\n", col.Name, col.Mtype, col.Prtype, col.Len)
	}
	for _, col := range table.VCols {
		fmt.Printf("  %-20s virtual, %d base columns\n", col.Name, len(col.BaseCols))
	}
	fmt.Println("Indexes:")
	for _, index := range table.Indexes {
		fields := make([]string, 0, len(index.Fields))
		for _, f := range index.Fields {
			if f.PrefixLen > 0 {
				fields = append(fields, fmt.Sprintf("%s(%d)", f.Col.Name, f.PrefixLen))
			} else {
				fields = append(fields, f.Col.Name)
			}
		}
		fmt.Printf("  %-20s id=%d type=%#x (%s)\n", index.Name, index.ID, index.Type, strings.Join(fields, ", "))
	}
	if fks := dm.Dict().PrintForeignKeys(table, false); fks != "" {
		fmt.Printf("Foreign keys: %s\n", fks)
	}
	return nil
}

func runForeignKeys(cmd *cobra.Command, args []string) error {
	dm, _, err := setup()
	if err != nil {
		return err
	}
	defer dm.Close()

	table, err := dm.OpenTableByName(args[0])
	if err != nil {
		return err
	}
	defer dm.Dict().CloseTable(table, false, false)

	fmt.Print(dm.Dict().PrintForeignKeys(table, true))
	fmt.Println()
	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	dm, loader, err := setup()
	if err != nil {
		return err
	}
	defer dm.Close()

	session := dm.MDL().NewSession()
	defer session.ReleaseAll()

	if err := dm.RenameTable(context.Background(), session, args[0], args[1]); err != nil {
		if mysqlErr := dict.ToMySQLError(err); mysqlErr != nil {
			return mysqlErr
		}
		return err
	}
	fmt.Printf("Renamed %s to %s\n", args[0], args[1])

	if save && loader.Dirty() {
		if err := loader.Save(); err != nil {
			return err
		}
		fmt.Printf("Catalog written to %s\n", loader.Path())
	}
	return nil
}

func runEvict(cmd *cobra.Command, args []string) error {
	dm, loader, err := setup()
	if err != nil {
		return err
	}
	defer dm.Close()

	for _, name := range loader.TableNames() {
		table, err := dm.OpenTableByName(name)
		if err != nil {
			logger.Warnf("Cannot open %s: %v", name, err)
			continue
		}
		dm.Dict().CloseTable(table, false, false)
	}

	before := dm.Stats()
	var n int
	if evictMax >= 0 || evictPct > 0 {
		maxTables, pct := evictMax, evictPct
		if maxTables < 0 {
			maxTables = dm.Config().TableDefinitionCache
		}
		if pct <= 0 || pct > 100 {
			pct = dm.Config().LRUScanPct
		}
		n = dm.EvictTo(maxTables, pct)
	} else {
		n = dm.Evict()
	}
	after := dm.Stats()
	fmt.Printf("Tables cached: %d (lru %d, pinned %d)\n", before.Tables, before.LRU, before.NonLRU)
	fmt.Printf("Evicted: %d, remaining: %d\n", n, after.Tables)
	return nil
}
