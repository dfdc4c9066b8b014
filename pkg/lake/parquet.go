package lake

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/courtside-data/cbbdx/pkg/normalize"
)

const pkMetadataKey = "cbbdx.primary_key"

func arrowType(t normalize.Type) arrow.DataType {
	switch t {
	case normalize.Int:
		return arrow.PrimitiveTypes.Int64
	case normalize.Float:
		return arrow.PrimitiveTypes.Float64
	case normalize.Bool:
		return arrow.FixedWidthTypes.Boolean
	case normalize.Timestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

func columnType(dt arrow.DataType) normalize.Type {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return normalize.Int
	case arrow.FLOAT32, arrow.FLOAT64:
		return normalize.Float
	case arrow.BOOL:
		return normalize.Bool
	case arrow.TIMESTAMP, arrow.DATE32:
		return normalize.Timestamp
	default:
		return normalize.String
	}
}

// Schema returns the arrow schema of t. The primary key travels as schema metadata.
func Schema(t *normalize.Table) *arrow.Schema {
	fields := make([]arrow.Field, len(t.Columns))
	for i, c := range t.Columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	var md *arrow.Metadata
	if len(t.PrimaryKey) > 0 {
		m := arrow.NewMetadata([]string{pkMetadataKey}, []string{strings.Join(t.PrimaryKey, ",")})
		md = &m
	}
	return arrow.NewSchema(fields, md)
}

// EncodeParquet writes t as a single-row-group snappy parquet file.
func EncodeParquet(t *normalize.Table) ([]byte, error) {
	pool := memory.NewGoAllocator()
	schema := Schema(t)

	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()

	for ci, col := range t.Columns {
		fb := rb.Field(ci)
		for _, row := range t.Rows {
			if err := appendValue(fb, col.Type, row[ci]); err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
	}
	record := rb.NewRecord()
	defer record.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(schema, &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, wrapError(CodeEncodeFailed, false, fmt.Errorf("create parquet writer: %w", err))
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, wrapError(CodeEncodeFailed, false, fmt.Errorf("write parquet record: %w", err))
	}
	if len(t.PrimaryKey) > 0 {
		// footer metadata survives readers that drop the stored arrow schema
		if err := writer.AppendKeyValueMetadata(pkMetadataKey, strings.Join(t.PrimaryKey, ",")); err != nil {
			writer.Close()
			return nil, wrapError(CodeEncodeFailed, false, fmt.Errorf("write primary key metadata: %w", err))
		}
	}
	if err := writer.Close(); err != nil {
		return nil, wrapError(CodeEncodeFailed, false, fmt.Errorf("close parquet writer: %w", err))
	}
	return buf.Bytes(), nil
}

func appendValue(b array.Builder, t normalize.Type, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	var ok bool
	switch t {
	case normalize.Int:
		var n int64
		if n, ok = v.(int64); ok {
			b.(*array.Int64Builder).Append(n)
		}
	case normalize.Float:
		var f float64
		if f, ok = v.(float64); ok {
			b.(*array.Float64Builder).Append(f)
		}
	case normalize.Bool:
		var x bool
		if x, ok = v.(bool); ok {
			b.(*array.BooleanBuilder).Append(x)
		}
	case normalize.Timestamp:
		var ts time.Time
		if ts, ok = v.(time.Time); ok {
			b.(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMicro()))
		}
	default:
		var s string
		if s, ok = v.(string); ok {
			b.(*array.StringBuilder).Append(s)
		}
	}
	if !ok {
		return fmt.Errorf("value %v (%T) does not match %s", v, v, t)
	}
	return nil
}

// DecodeParquet reads a parquet file produced by EncodeParquet (or any file with
// compatible primitive columns) back into a table named name.
func DecodeParquet(ctx context.Context, name string, data []byte) (*normalize.Table, error) {
	pool := memory.NewGoAllocator()
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, wrapError(CodeReadFailed, false, fmt.Errorf("open parquet: %w", err))
	}
	defer rdr.Close()
	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, wrapError(CodeReadFailed, false, fmt.Errorf("open parquet: %w", err))
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, wrapError(CodeReadFailed, false, fmt.Errorf("read parquet: %w", err))
	}
	defer tbl.Release()

	schema := tbl.Schema()
	cols := make([]normalize.Column, schema.NumFields())
	for i, f := range schema.Fields() {
		cols[i] = normalize.Column{Name: f.Name, Type: columnType(f.Type)}
	}
	var pk []string
	if v := rdr.MetaData().KeyValueMetadata().FindValue(pkMetadataKey); v != nil && *v != "" {
		pk = strings.Split(*v, ",")
	} else if md := schema.Metadata(); md.Len() > 0 {
		if idx := md.FindKey(pkMetadataKey); idx >= 0 {
			if v := md.Values()[idx]; v != "" {
				pk = strings.Split(v, ",")
			}
		}
	}

	out := normalize.Empty(name, cols, pk)
	n := int(tbl.NumRows())
	out.Rows = make([][]any, n)
	for i := range out.Rows {
		out.Rows[i] = make([]any, len(cols))
	}
	for ci := range cols {
		row := 0
		for _, chunk := range tbl.Column(ci).Data().Chunks() {
			for j := 0; j < chunk.Len(); j++ {
				out.Rows[row][ci] = readValue(chunk, j)
				row++
			}
		}
	}
	return out, nil
}

func readValue(a arrow.Array, i int) any {
	if a.IsNull(i) {
		return nil
	}
	switch arr := a.(type) {
	case *array.Int64:
		return arr.Value(i)
	case *array.Int32:
		return int64(arr.Value(i))
	case *array.Int16:
		return int64(arr.Value(i))
	case *array.Int8:
		return int64(arr.Value(i))
	case *array.Uint32:
		return int64(arr.Value(i))
	case *array.Uint16:
		return int64(arr.Value(i))
	case *array.Uint8:
		return int64(arr.Value(i))
	case *array.Float64:
		return arr.Value(i)
	case *array.Float32:
		return float64(arr.Value(i))
	case *array.Boolean:
		return arr.Value(i)
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		return arr.Value(i).ToTime(unit).UTC()
	case *array.Date32:
		return arr.Value(i).ToTime().UTC()
	case *array.String:
		return arr.Value(i)
	case *array.LargeString:
		return arr.Value(i)
	default:
		return a.ValueStr(i)
	}
}

// ParquetRowCount reads the row count from the file footer without decoding columns.
func ParquetRowCount(data []byte) (int64, error) {
	rdr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("open parquet footer: %w", err)
	}
	defer rdr.Close()
	return rdr.NumRows(), nil
}
