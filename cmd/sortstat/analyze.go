// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"

	"github.com/sneller-archive/sortstat/stat"
)

// analyzeIndexFile runs the ANALYZE statistics engine over a build
// output file and prints the resulting stat1/stat4 rows in the same
// (table, index, value) shape the sqlite_stat1/sqlite_stat4 tables
// use, with \N for a NULL index column.
func analyzeIndexFile(cfg *Config, idx *IndexConfig, indexPath string) error {
	fi, err := readIndexFile(indexPath, idx.Columns)
	if err != nil {
		return err
	}

	a := &stat.Analyzer{
		Table:          idx.Table,
		Index:          idx.Index,
		K:              idx.Columns,
		Unordered:      idx.Unordered,
		SampleCapacity: cfg.SampleCapacity,
		Seed:           cfg.Seed,
	}
	if dashv {
		a.Logf = logf
	}

	res, err := a.AnalyzeIndex(fi.scanner(), fi)
	if err != nil {
		return err
	}

	if res.Stat1 == nil {
		fmt.Printf("-- %s.%s: empty index, no stat1 row\n", idx.Table, idx.Index)
		return nil
	}
	tblRow := stat.TableRowCountRow(idx.Table, res.RowCount)
	fmt.Printf("%s\t\\N\t%s\n", tblRow.Table, tblRow.Stat())
	fmt.Printf("%s\t%s\t%s\n", idx.Table, idx.Index, res.Stat1.Stat())
	for _, row := range res.Stat4 {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%x\n", row.Table, row.Index, row.NEq(), row.NLt(), row.NDlt(), row.Key)
	}
	return nil
}
