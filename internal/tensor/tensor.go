// Package tensor provides the small dense array and structured-record types
// that move data across the extractor, batcher and decoder boundaries.
//
// A Tensor is a shape-carrying dense array of one of three element types:
// float64, int64 or byte strings. It is deliberately minimal: the input
// pipeline only needs construction, element access, padding along a single
// dimension, and stacking instances into a batch.
package tensor

import (
	"fmt"
)

// DType identifies the element type of a Tensor.
type DType int

const (
	// Float64 tensors hold float64 elements.
	Float64 DType = iota
	// Int64 tensors hold int64 elements.
	Int64
	// Bytes tensors hold variable-length byte strings as elements.
	Bytes
)

// String returns a human-readable dtype name.
func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// Tensor is a dense n-dimensional array. A rank-0 tensor (empty shape) holds
// a single scalar element. Data is stored row-major.
type Tensor struct {
	dtype DType
	shape []int

	f64 []float64
	i64 []int64
	str [][]byte
}

// numElements returns the product of the dims in shape.
func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return -1
		}
		n *= d
	}
	return n
}

func checkShape(shape []int, have int) error {
	want := numElements(shape)
	if want < 0 {
		return fmt.Errorf("tensor: negative dimension in shape %v", shape)
	}
	if want != have {
		return fmt.Errorf("tensor: shape %v requires %d elements, got %d", shape, want, have)
	}
	return nil
}

// NewFloat64 creates a float64 tensor with the given shape. The data slice is
// retained, not copied.
func NewFloat64(shape []int, data []float64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{dtype: Float64, shape: append([]int(nil), shape...), f64: data}, nil
}

// NewInt64 creates an int64 tensor with the given shape.
func NewInt64(shape []int, data []int64) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{dtype: Int64, shape: append([]int(nil), shape...), i64: data}, nil
}

// NewBytes creates a bytes tensor with the given shape.
func NewBytes(shape []int, data [][]byte) (*Tensor, error) {
	if err := checkShape(shape, len(data)); err != nil {
		return nil, err
	}
	return &Tensor{dtype: Bytes, shape: append([]int(nil), shape...), str: data}, nil
}

// ScalarInt64 creates a rank-0 int64 tensor.
func ScalarInt64(v int64) *Tensor {
	return &Tensor{dtype: Int64, shape: nil, i64: []int64{v}}
}

// ScalarFloat64 creates a rank-0 float64 tensor.
func ScalarFloat64(v float64) *Tensor {
	return &Tensor{dtype: Float64, shape: nil, f64: []float64{v}}
}

// ScalarBytes creates a rank-0 bytes tensor.
func ScalarBytes(v []byte) *Tensor {
	return &Tensor{dtype: Bytes, shape: nil, str: [][]byte{v}}
}

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() int { return numElements(t.shape) }

// Dim returns the extent of dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Float64s returns the backing float64 slice. It panics for other dtypes.
func (t *Tensor) Float64s() []float64 {
	if t.dtype != Float64 {
		panic(fmt.Sprintf("tensor: Float64s called on %s tensor", t.dtype))
	}
	return t.f64
}

// Int64s returns the backing int64 slice. It panics for other dtypes.
func (t *Tensor) Int64s() []int64 {
	if t.dtype != Int64 {
		panic(fmt.Sprintf("tensor: Int64s called on %s tensor", t.dtype))
	}
	return t.i64
}

// BytesValues returns the backing byte-string slice. It panics for other dtypes.
func (t *Tensor) BytesValues() [][]byte {
	if t.dtype != Bytes {
		panic(fmt.Sprintf("tensor: BytesValues called on %s tensor", t.dtype))
	}
	return t.str
}

// sameShape reports whether two shapes are identical.
func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// shapeEqualExcept reports whether a and b agree on every dimension other
// than dim.
func shapeEqualExcept(a, b []int, dim int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if i == dim {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PadTo returns a copy of t whose dimension dim has been grown to size,
// with new positions filled by the pad constant. Float64 and Int64 tensors
// fill with pad (truncated for Int64); Bytes tensors fill with empty strings.
// Padding to a smaller size than the current extent is an error.
func (t *Tensor) PadTo(dim, size int, pad float64) (*Tensor, error) {
	if dim < 0 || dim >= len(t.shape) {
		return nil, fmt.Errorf("tensor: pad dimension %d out of range for shape %v", dim, t.shape)
	}
	cur := t.shape[dim]
	if size < cur {
		return nil, fmt.Errorf("tensor: cannot pad dimension %d from %d down to %d", dim, cur, size)
	}
	if size == cur {
		return t, nil
	}

	newShape := t.Shape()
	newShape[dim] = size

	// View the tensor as [outer, shape[dim], inner] blocks.
	outer := numElements(t.shape[:dim])
	inner := numElements(t.shape[dim+1:])
	oldBlock := cur * inner
	newBlock := size * inner

	out := &Tensor{dtype: t.dtype, shape: newShape}
	switch t.dtype {
	case Float64:
		data := make([]float64, outer*newBlock)
		if pad != 0 {
			for i := range data {
				data[i] = pad
			}
		}
		for o := 0; o < outer; o++ {
			copy(data[o*newBlock:o*newBlock+oldBlock], t.f64[o*oldBlock:(o+1)*oldBlock])
		}
		out.f64 = data
	case Int64:
		data := make([]int64, outer*newBlock)
		if p := int64(pad); p != 0 {
			for i := range data {
				data[i] = p
			}
		}
		for o := 0; o < outer; o++ {
			copy(data[o*newBlock:o*newBlock+oldBlock], t.i64[o*oldBlock:(o+1)*oldBlock])
		}
		out.i64 = data
	case Bytes:
		data := make([][]byte, outer*newBlock)
		for o := 0; o < outer; o++ {
			copy(data[o*newBlock:o*newBlock+oldBlock], t.str[o*oldBlock:(o+1)*oldBlock])
		}
		out.str = data
	}
	return out, nil
}

// Stack combines n tensors of identical shape and dtype into one tensor with
// a new leading dimension of extent n.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("tensor: cannot stack zero tensors")
	}
	first := ts[0]
	for i, t := range ts[1:] {
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("tensor: stack dtype mismatch at %d: %s vs %s", i+1, t.dtype, first.dtype)
		}
		if !sameShape(t.shape, first.shape) {
			return nil, fmt.Errorf("tensor: stack shape mismatch at %d: %v vs %v", i+1, t.shape, first.shape)
		}
	}

	newShape := append([]int{len(ts)}, first.shape...)
	per := first.NumElements()
	out := &Tensor{dtype: first.dtype, shape: newShape}
	switch first.dtype {
	case Float64:
		data := make([]float64, 0, per*len(ts))
		for _, t := range ts {
			data = append(data, t.f64...)
		}
		out.f64 = data
	case Int64:
		data := make([]int64, 0, per*len(ts))
		for _, t := range ts {
			data = append(data, t.i64...)
		}
		out.i64 = data
	case Bytes:
		data := make([][]byte, 0, per*len(ts))
		for _, t := range ts {
			data = append(data, t.str...)
		}
		out.str = data
	}
	return out, nil
}

// PadOrTrimTo normalizes t to the declared shape: each dimension is padded
// with zeros (or empty strings) or truncated so the result has exactly the
// declared shape. The rank must match.
func (t *Tensor) PadOrTrimTo(shape []int) (*Tensor, error) {
	if len(shape) != len(t.shape) {
		return nil, fmt.Errorf("tensor: PadOrTrimTo rank mismatch: %v vs %v", t.shape, shape)
	}
	out := t
	var err error
	for dim := range shape {
		if out.shape[dim] < shape[dim] {
			out, err = out.PadTo(dim, shape[dim], 0)
			if err != nil {
				return nil, err
			}
		} else if out.shape[dim] > shape[dim] {
			out, err = out.slice(dim, shape[dim])
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// slice truncates dimension dim to the first size entries.
func (t *Tensor) slice(dim, size int) (*Tensor, error) {
	if dim < 0 || dim >= len(t.shape) {
		return nil, fmt.Errorf("tensor: slice dimension %d out of range for shape %v", dim, t.shape)
	}
	cur := t.shape[dim]
	if size > cur {
		return nil, fmt.Errorf("tensor: cannot slice dimension %d from %d up to %d", dim, cur, size)
	}
	if size == cur {
		return t, nil
	}

	newShape := t.Shape()
	newShape[dim] = size

	outer := numElements(t.shape[:dim])
	inner := numElements(t.shape[dim+1:])
	oldBlock := cur * inner
	newBlock := size * inner

	out := &Tensor{dtype: t.dtype, shape: newShape}
	switch t.dtype {
	case Float64:
		data := make([]float64, 0, outer*newBlock)
		for o := 0; o < outer; o++ {
			data = append(data, t.f64[o*oldBlock:o*oldBlock+newBlock]...)
		}
		out.f64 = data
	case Int64:
		data := make([]int64, 0, outer*newBlock)
		for o := 0; o < outer; o++ {
			data = append(data, t.i64[o*oldBlock:o*oldBlock+newBlock]...)
		}
		out.i64 = data
	case Bytes:
		data := make([][]byte, 0, outer*newBlock)
		for o := 0; o < outer; o++ {
			data = append(data, t.str[o*oldBlock:o*oldBlock+newBlock]...)
		}
		out.str = data
	}
	return out, nil
}

// Equal reports whether two tensors have identical dtype, shape and contents.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.dtype != o.dtype || !sameShape(t.shape, o.shape) {
		return false
	}
	switch t.dtype {
	case Float64:
		for i := range t.f64 {
			if t.f64[i] != o.f64[i] {
				return false
			}
		}
	case Int64:
		for i := range t.i64 {
			if t.i64[i] != o.i64[i] {
				return false
			}
		}
	case Bytes:
		for i := range t.str {
			if string(t.str[i]) != string(o.str[i]) {
				return false
			}
		}
	}
	return true
}

// String summarizes the tensor for logging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor<%s %v>", t.dtype, t.shape)
}
