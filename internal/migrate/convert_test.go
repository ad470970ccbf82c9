package migrate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordV1 struct {
	A int
	B string
}

func (*recordV1) ComponentKey() string { return "rec" }

type recordV2 struct {
	B string
	C int `default:"0"`
}

func (*recordV2) ComponentKey() string { return "rec" }

type inner1 struct {
	X int32
	y string
}

type inner2 struct {
	X int64
	y string
	Z bool `default:"true"`
}

type nestV1 struct {
	Pos    inner1
	hidden int
	Name   string
}

type nestV2 struct {
	Pos    inner2
	hidden int64
	Name   string
	Level  uint8 `default:"3"`
}

func TestConvert_FieldPreservation(t *testing.T) {
	out, err := Convert("rec", &recordV1{A: 5, B: "x"}, ShapeOf[recordV2]())
	require.NoError(t, err)
	assert.Equal(t, &recordV2{B: "x", C: 0}, out)
}

func TestConvert_NestedAndUnexported(t *testing.T) {
	src := nestV1{Pos: inner1{X: 4, y: "q"}, hidden: 9, Name: "n"}
	out, err := Convert("nest", src, ShapeOf[nestV2]())
	require.NoError(t, err)
	assert.Equal(t, &nestV2{
		Pos:    inner2{X: 4, y: "q", Z: true},
		hidden: 9,
		Name:   "n",
		Level:  3,
	}, out)
}

func TestConvert_ScalarRules(t *testing.T) {
	type from struct {
		Small  int64
		Big    int64
		Neg    int
		Ratio  float64
		Count  uint16
		Label  string
		Flag   bool
		Number int
	}
	type to struct {
		Small  int8
		Big    int8 `default:"-1"`
		Neg    uint
		Ratio  float32
		Count  float64
		Label  []byte
		Flag   bool
		Number string `default:"n/a"`
	}

	src := from{Small: 12, Big: math.MaxInt64, Neg: -3, Ratio: 0.5, Count: 7, Label: "hi", Flag: true, Number: 65}
	out, err := Convert("scalars", &src, ShapeOf[to]())
	require.NoError(t, err)
	assert.Equal(t, &to{
		Small:  12,
		Big:    -1,
		Ratio:  0.5,
		Count:  7,
		Flag:   true,
		Number: "n/a",
	}, out)
}

type notAStruct int

func TestConvert_NonStructBecomesDefault(t *testing.T) {
	out, err := Convert("rec", notAStruct(3), ShapeOf[recordV2]())
	var ce *ConvertError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "rec", ce.Record)
	assert.ErrorIs(t, err, ErrNotStruct)
	assert.Equal(t, &recordV2{}, out)

	out, err = Convert("rec", (*recordV1)(nil), ShapeOf[recordV2]())
	assert.Error(t, err)
	assert.Equal(t, &recordV2{}, out)
}

func TestConvert_DroppedFieldsReported(t *testing.T) {
	_, stats, err := convertInstance("nest", &nestV1{}, ShapeOf[recordV2]())
	require.NoError(t, err)
	assert.Equal(t, []string{"Pos", "hidden", "Name"}, stats.dropped)

	_, stats, err = convertInstance("rec", &recordV1{}, ShapeOf[recordV2]())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, stats.dropped)
	assert.Equal(t, 1, stats.copied)
}
