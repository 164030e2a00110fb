// Package export converts eager arrays to and from Arrow record batches
// and IPC streams.
package export

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-spectra/internal/device"
)

// ShapeKey is the schema metadata key holding the full array shape.
const ShapeKey = "shape"

// DefaultColumn is the column name used when none is given.
const DefaultColumn = "signal"

var (
	ErrInvalidColumn = errors.New("invalid signal column")
	ErrNoRecords     = errors.New("no records")
)

// ToRecordBatch lays x out as one FixedSizeList<float64> row per position
// of its leading axes, with the last axis as the list width. The full
// shape is kept in the schema metadata.
func ToRecordBatch(mem memory.Allocator, x *device.CPUTensor, column string) (arrow.RecordBatch, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: nil tensor", device.ErrUnsupportedKind)
	}
	if x.DType() != device.Float64 {
		return nil, fmt.Errorf("%w: cannot export %s arrays", device.ErrDType, x.DType())
	}
	if column == "" {
		column = DefaultColumn
	}

	shape := x.Shape()
	width := 1
	if shape.Rank() > 0 {
		width = shape[shape.Rank()-1]
	}
	if width == 0 {
		return nil, fmt.Errorf("%w: cannot export shape %v with an empty last axis", device.ErrShapeMismatch, shape)
	}
	data := x.Float64s()
	rows := len(data) / width

	listType := arrow.FixedSizeListOf(int32(width), arrow.PrimitiveTypes.Float64)
	md := arrow.NewMetadata([]string{ShapeKey}, []string{formatShape(shape)})
	schema := arrow.NewSchema([]arrow.Field{{Name: column, Type: listType}}, &md)

	builder := array.NewFixedSizeListBuilder(mem, int32(width), arrow.PrimitiveTypes.Float64)
	defer builder.Release()
	values := builder.ValueBuilder().(*array.Float64Builder)
	values.Reserve(len(data))

	for r := 0; r < rows; r++ {
		builder.Append(true)
		values.AppendValues(data[r*width:(r+1)*width], nil)
	}

	col := builder.NewArray()
	defer col.Release()

	return array.NewRecordBatch(schema, []arrow.Array{col}, int64(rows)), nil
}

// FromRecordBatch restores the array stored in column. The shape comes
// from the schema metadata when it accounts for exactly this batch's
// values, and is (rows, width) otherwise.
func FromRecordBatch(rec arrow.RecordBatch, column string) (*device.CPUTensor, error) {
	if column == "" {
		column = DefaultColumn
	}
	indices := rec.Schema().FieldIndices(column)
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: no column %q", ErrInvalidColumn, column)
	}
	list, ok := rec.Column(indices[0]).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("%w: column %q is %s, want fixed_size_list<float64>", ErrInvalidColumn, column, rec.Column(indices[0]).DataType())
	}
	values, ok := list.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: column %q holds %s values, want float64", ErrInvalidColumn, column, list.ListValues().DataType())
	}

	width := int(list.DataType().(*arrow.FixedSizeListType).Len())
	rows := list.Len()
	raw := values.Float64Values()

	data := make([]float64, 0, rows*width)
	for r := 0; r < rows; r++ {
		if list.IsNull(r) {
			return nil, fmt.Errorf("%w: row %d is null", ErrInvalidColumn, r)
		}
		start, end := list.ValueOffsets(r)
		data = append(data, raw[start:end]...)
	}

	shape := device.Shape{rows, width}
	if md := rec.Schema().Metadata(); md.FindKey(ShapeKey) >= 0 {
		parsed, err := parseShape(md.Values()[md.FindKey(ShapeKey)])
		if err != nil {
			return nil, err
		}
		if parsed.NumElements() == len(data) {
			shape = parsed
		}
	}
	return device.Eager().NewTensor(shape, data)
}

// WriteIPC writes recs as one Arrow IPC stream using the schema of the
// first record.
func WriteIPC(w io.Writer, recs ...arrow.RecordBatch) error {
	if len(recs) == 0 {
		return ErrNoRecords
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(recs[0].Schema()))
	for _, rec := range recs {
		if err := writer.Write(rec); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

// ReadIPC reads every record of an Arrow IPC stream. The caller releases
// the returned records.
func ReadIPC(r io.Reader, mem memory.Allocator) ([]arrow.RecordBatch, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var recs []arrow.RecordBatch
	for reader.Next() {
		rec := reader.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, err
	}
	return recs, nil
}

func formatShape(s device.Shape) string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseShape(text string) (device.Shape, error) {
	if text == "" {
		return device.Shape{}, nil
	}
	fields := strings.Split(text, ",")
	shape := make(device.Shape, len(fields))
	for i, f := range fields {
		d, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: bad %s metadata %q", device.ErrShapeMismatch, ShapeKey, text)
		}
		shape[i] = d
	}
	return shape, nil
}
