package dict

import (
	"strconv"
	"strings"
)

func quoteIdentifier(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// formatTableName 把 db/tbl 格式化为 `db`.`tbl`
func formatTableName(name string) string {
	if db, tbl, ok := ParseTableName(name); ok {
		return quoteIdentifier(db) + "." + quoteIdentifier(tbl)
	}
	return quoteIdentifier(name)
}

func sameDB(a, b string) bool {
	return DBName(a) == DBName(b)
}

// ForeignKeyCreateFormat 按 SHOW CREATE TABLE 的格式输出外键定义
func ForeignKeyCreateFormat(foreign *Foreign, addNewline bool) string {
	var b strings.Builder

	strippedID := foreign.ID
	if strings.Contains(strippedID, "/") {
		strippedID = RemoveDBName(strippedID)
	}

	b.WriteString(",")
	if addNewline {
		b.WriteString("\n ")
	}
	b.WriteString(" CONSTRAINT ")
	b.WriteString(quoteIdentifier(strippedID))
	b.WriteString(" FOREIGN KEY (")
	for i, name := range foreign.ForeignColNames {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdentifier(name))
	}
	b.WriteString(") REFERENCES ")

	forLookup := foreign.ForeignTableNameLookup
	refLookup := foreign.ReferencedTableNameLookup
	if forLookup == "" {
		forLookup = foreign.ForeignTableName
	}
	if refLookup == "" {
		refLookup = foreign.ReferencedTableName
	}
	if sameDB(forLookup, refLookup) {
		b.WriteString(quoteIdentifier(RemoveDBName(foreign.ReferencedTableName)))
	} else {
		b.WriteString(formatTableName(foreign.ReferencedTableName))
	}

	b.WriteString(" (")
	for i, name := range foreign.ReferencedColNames {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdentifier(name))
	}
	b.WriteString(")")
	b.WriteString(foreignActions(foreign.Type))

	return b.String()
}

func foreignActions(typ uint32) string {
	var b strings.Builder
	if typ&ForeignDeleteCascade != 0 {
		b.WriteString(" ON DELETE CASCADE")
	}
	if typ&ForeignDeleteSetNull != 0 {
		b.WriteString(" ON DELETE SET NULL")
	}
	if typ&ForeignDeleteNoAction != 0 {
		b.WriteString(" ON DELETE NO ACTION")
	}
	if typ&ForeignUpdateCascade != 0 {
		b.WriteString(" ON UPDATE CASCADE")
	}
	if typ&ForeignUpdateSetNull != 0 {
		b.WriteString(" ON UPDATE SET NULL")
	}
	if typ&ForeignUpdateNoAction != 0 {
		b.WriteString(" ON UPDATE NO ACTION")
	}
	return b.String()
}

// PrintForeignKeys 输出表的全部外键。createFormat 为 true 时使用 SHOW CREATE TABLE 格式，
// 否则使用 SHOW TABLE STATUS 注释中的简短格式
func (d *DictSys) PrintForeignKeys(table *Table, createFormat bool) string {
	d.Lock()
	defer d.Unlock()

	var b strings.Builder
	for _, foreign := range table.ForeignSet.Sorted() {
		if createFormat {
			b.WriteString(ForeignKeyCreateFormat(foreign, true))
			continue
		}

		b.WriteString("; (")
		for i, name := range foreign.ForeignColNames {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(quoteIdentifier(name))
		}
		b.WriteString(") REFER ")
		b.WriteString(formatTableName(foreign.ReferencedTableName))
		b.WriteString("(")
		for i, name := range foreign.ReferencedColNames {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(quoteIdentifier(name))
		}
		b.WriteString(")")
		b.WriteString(foreignActions(foreign.Type))
	}
	return b.String()
}

// TableGetHighestForeignID 表中自动生成的外键 ID（db/tbl_ibfk_N）的最大编号
func TableGetHighestForeignID(table *Table) uint64 {
	prefix := table.Name + foreignIDSuffix
	var biggest uint64

	for id := range table.ForeignSet {
		if len(id) <= len(prefix) || !strings.HasPrefix(id, prefix) || id[len(prefix)] == '0' {
			continue
		}
		n, err := strconv.ParseUint(id[len(prefix):], 10, 64)
		if err != nil {
			continue
		}
		if n > biggest {
			biggest = n
		}
	}
	return biggest
}
