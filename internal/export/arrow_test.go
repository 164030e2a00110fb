package export

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-spectra/internal/device"
)

func tensor(t *testing.T, shape device.Shape) *device.CPUTensor {
	t.Helper()
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = float64(i) / 2
	}
	x, err := device.Eager().NewTensor(shape, data)
	require.NoError(t, err)
	return x
}

func TestToRecordBatch(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	x := tensor(t, device.Shape{2, 3, 4})
	rec, err := ToRecordBatch(mem, x, "")
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(6), rec.NumRows())
	assert.Equal(t, int64(1), rec.NumCols())
	assert.Equal(t, DefaultColumn, rec.ColumnName(0))

	md := rec.Schema().Metadata()
	require.GreaterOrEqual(t, md.FindKey(ShapeKey), 0)
	assert.Equal(t, "2,3,4", md.Values()[md.FindKey(ShapeKey)])

	list := rec.Column(0).(*array.FixedSizeList)
	assert.Equal(t, int32(4), list.DataType().(*arrow.FixedSizeListType).Len())
	values := list.ListValues().(*array.Float64)
	assert.Equal(t, 24, values.Len())
	assert.Equal(t, 11.5, values.Value(23))
}

func TestRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	for _, shape := range []device.Shape{{8}, {2, 256}, {2, 3, 4}, {}} {
		t.Run(shape.String(), func(t *testing.T) {
			x := tensor(t, shape)
			rec, err := ToRecordBatch(mem, x, "u")
			require.NoError(t, err)
			defer rec.Release()

			got, err := FromRecordBatch(rec, "u")
			require.NoError(t, err)
			assert.Equal(t, x.Shape(), got.Shape())
			assert.Equal(t, x.Float64s(), got.Float64s())
		})
	}
}

func TestFromRecordBatch_WithoutMetadata(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	listType := arrow.FixedSizeListOf(2, arrow.PrimitiveTypes.Float64)
	schema := arrow.NewSchema([]arrow.Field{{Name: "signal", Type: listType}}, nil)

	b := array.NewFixedSizeListBuilder(mem, 2, arrow.PrimitiveTypes.Float64)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Float64Builder)
	for _, row := range [][]float64{{1, 2}, {3, 4}, {5, 6}} {
		b.Append(true)
		vb.AppendValues(row, nil)
	}
	col := b.NewArray()
	defer col.Release()

	rec := array.NewRecordBatch(schema, []arrow.Array{col}, 3)
	defer rec.Release()

	got, err := FromRecordBatch(rec, "")
	require.NoError(t, err)
	assert.Equal(t, device.Shape{3, 2}, got.Shape())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got.Float64s())

	// Slicing keeps the parent's value buffer; rows must be read at the slice offset.
	sliced := rec.NewSlice(1, 3)
	defer sliced.Release()
	got, err = FromRecordBatch(sliced, "signal")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4, 5, 6}, got.Float64s())
}

func TestErrors(t *testing.T) {
	mem := memory.NewGoAllocator()

	c, err := device.Eager().NewComplexTensor(device.Shape{2}, nil)
	require.NoError(t, err)
	_, err = ToRecordBatch(mem, c, "")
	assert.ErrorIs(t, err, device.ErrDType)

	_, err = ToRecordBatch(mem, tensor(t, device.Shape{2, 0}), "")
	assert.ErrorIs(t, err, device.ErrShapeMismatch)

	rec, err := ToRecordBatch(mem, tensor(t, device.Shape{4}), "signal")
	require.NoError(t, err)
	defer rec.Release()
	_, err = FromRecordBatch(rec, "other")
	assert.ErrorIs(t, err, ErrInvalidColumn)

	schema := arrow.NewSchema([]arrow.Field{{Name: "signal", Type: arrow.PrimitiveTypes.Float64}}, nil)
	fb := array.NewFloat64Builder(mem)
	defer fb.Release()
	fb.AppendValues([]float64{1}, nil)
	col := fb.NewArray()
	defer col.Release()
	flat := array.NewRecordBatch(schema, []arrow.Array{col}, 1)
	defer flat.Release()
	_, err = FromRecordBatch(flat, "signal")
	assert.ErrorIs(t, err, ErrInvalidColumn)

	_, err = parseShape("2,x")
	assert.ErrorIs(t, err, device.ErrShapeMismatch)

	assert.ErrorIs(t, WriteIPC(&bytes.Buffer{}), ErrNoRecords)
}

func TestIPC(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	first, err := ToRecordBatch(mem, tensor(t, device.Shape{2, 4}), "")
	require.NoError(t, err)
	defer first.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteIPC(&buf, first, first))

	recs, err := ReadIPC(&buf, mem)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		got, err := FromRecordBatch(rec, "")
		require.NoError(t, err)
		assert.Equal(t, device.Shape{2, 4}, got.Shape())
		assert.Equal(t, []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5}, got.Float64s())
		rec.Release()
	}

	_, err = ReadIPC(bytes.NewReader([]byte("not arrow")), mem)
	assert.Error(t, err)
}

func TestFromRecordBatch_StaleMetadata(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec, err := ToRecordBatch(mem, tensor(t, device.Shape{2, 3, 4}), "")
	require.NoError(t, err)
	defer rec.Release()

	// Metadata still says (2, 3, 4); the slice holds two rows.
	sliced := rec.NewSlice(4, 6)
	defer sliced.Release()

	got, err := FromRecordBatch(sliced, "")
	require.NoError(t, err)
	assert.Equal(t, device.Shape{2, 4}, got.Shape())
	assert.Equal(t, []float64{8, 8.5, 9, 9.5, 10, 10.5, 11, 11.5}, got.Float64s())
}
