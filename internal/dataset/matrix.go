package dataset

// MatrixColumn 是矩阵中的一列：压力 × 间隙。
type MatrixColumn struct {
	Pressure string `json:"pressure"`
	Gap      string `json:"gap"`
}

// MatrixRow 是一种 application 的一行。
type MatrixRow struct {
	Application string   `json:"application"`
	Label       string   `json:"label"`
	Cells       []string `json:"cells"`
}

// Matrix 是某产品全部相关设定值的参考表。
type Matrix struct {
	Product string         `json:"product"`
	Columns []MatrixColumn `json:"columns"`
	Rows    []MatrixRow    `json:"rows"`
}

var (
	matrixColumns = []MatrixColumn{
		{Pressure: "1.5", Gap: "A"},
		{Pressure: "1.5", Gap: "R"},
		{Pressure: "2.5", Gap: "A"},
		{Pressure: "2.5", Gap: "R"},
	}
	matrixRows = []struct{ application, label string }{
		{"trigger", "Trigger spray"},
		{"bucket", "Bucket / Scrubber drier"},
	}
)

// Matrix 构建产品矩阵；产品不存在时返回 false，缺失单元格填 Placeholder。
func (ds *Dataset) Matrix(productName string) (Matrix, bool) {
	if !ds.hasProduct(productName) {
		return Matrix{}, false
	}
	m := Matrix{
		Product: productName,
		Columns: append([]MatrixColumn(nil), matrixColumns...),
	}
	for _, row := range matrixRows {
		cells := make([]string, len(matrixColumns))
		for i, col := range matrixColumns {
			cells[i] = Placeholder
			if v, ok := ds.Setting(productName, row.application, col.Pressure, col.Gap); ok {
				cells[i] = v.String()
			}
		}
		m.Rows = append(m.Rows, MatrixRow{Application: row.application, Label: row.label, Cells: cells})
	}
	return m, true
}

func (ds *Dataset) hasProduct(name string) bool {
	for _, p := range ds.products {
		if p.name == name {
			return true
		}
	}
	return false
}
