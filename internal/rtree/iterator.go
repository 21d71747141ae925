package rtree

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"reflect"
)

// Slice is the variable-length record type requested by a Typed Iterator
// consumer for a non-fixed-width column (§4.10's "Slice<T>").
type Slice[T any] []T

// TypeMismatchError reports that the type requested from Iterate does not
// match what the branch's baskets actually contain.
type TypeMismatchError struct {
	BranchType    string
	RequestedType string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("rtree: requested type %s does not fit branch data (%s)", e.RequestedType, e.BranchType)
}

type scalarKind int

const (
	kInvalid scalarKind = iota
	kBool
	kInt8
	kUint8
	kInt16
	kUint16
	kInt32
	kUint32
	kInt64
	kUint64
	kFloat32
	kFloat64
)

func scalarKindOf(t reflect.Type) scalarKind {
	switch t.Kind() {
	case reflect.Bool:
		return kBool
	case reflect.Int8:
		return kInt8
	case reflect.Uint8:
		return kUint8
	case reflect.Int16:
		return kInt16
	case reflect.Uint16:
		return kUint16
	case reflect.Int32:
		return kInt32
	case reflect.Uint32:
		return kUint32
	case reflect.Int64:
		return kInt64
	case reflect.Uint64:
		return kUint64
	case reflect.Float32:
		return kFloat32
	case reflect.Float64:
		return kFloat64
	default:
		return kInvalid
	}
}

func scalarSize(k scalarKind) int32 {
	switch k {
	case kBool, kInt8, kUint8:
		return 1
	case kInt16, kUint16:
		return 2
	case kInt32, kUint32, kFloat32:
		return 4
	case kInt64, kUint64, kFloat64:
		return 8
	default:
		return 0
	}
}

// decodeScalar reads one value of kind k from the front of b and returns it
// as a reflect.Value of the matching builtin Go type.
func decodeScalar(k scalarKind, b []byte) reflect.Value {
	switch k {
	case kBool:
		return reflect.ValueOf(b[0] != 0)
	case kInt8:
		return reflect.ValueOf(int8(b[0]))
	case kUint8:
		return reflect.ValueOf(b[0])
	case kInt16:
		return reflect.ValueOf(int16(binary.BigEndian.Uint16(b)))
	case kUint16:
		return reflect.ValueOf(binary.BigEndian.Uint16(b))
	case kInt32:
		return reflect.ValueOf(int32(binary.BigEndian.Uint32(b)))
	case kUint32:
		return reflect.ValueOf(binary.BigEndian.Uint32(b))
	case kInt64:
		return reflect.ValueOf(int64(binary.BigEndian.Uint64(b)))
	case kUint64:
		return reflect.ValueOf(binary.BigEndian.Uint64(b))
	case kFloat32:
		return reflect.ValueOf(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case kFloat64:
		return reflect.ValueOf(math.Float64frombits(binary.BigEndian.Uint64(b)))
	default:
		panic("rtree: decodeScalar called with invalid kind")
	}
}

type iterShape int

const (
	shapeScalar iterShape = iota
	shapeArray
	shapeSlice
	shapeString
)

// Iter adapts a Branch's chunk sequence into a typed, lazy, single-pass
// sequence of T values (§4.10). Construct with NewIter.
type Iter[T any] struct {
	branch   *Branch
	rt       reflect.Type
	shape    iterShape
	elemKind scalarKind
	arrayLen int
}

// NewIter validates that T's shape (scalar, [N]E fixed array, Slice[E], or
// string) is compatible with b and returns an iterator over it. The
// validation is structural only; a per-chunk stride mismatch still
// surfaces as a TypeMismatchError from All when encountered.
func NewIter[T any](b *Branch) (*Iter[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	it := &Iter[T]{branch: b, rt: rt}

	if rt == nil {
		return nil, &TypeMismatchError{RequestedType: "nil", BranchType: b.ItemTypeName()}
	}

	switch rt.Kind() {
	case reflect.String:
		it.shape = shapeString
		return it, nil
	case reflect.Array:
		ek := scalarKindOf(rt.Elem())
		if ek == kInvalid {
			return nil, &TypeMismatchError{RequestedType: rt.String(), BranchType: b.ItemTypeName()}
		}
		it.shape, it.elemKind, it.arrayLen = shapeArray, ek, rt.Len()
		return it, nil
	case reflect.Slice:
		ek := scalarKindOf(rt.Elem())
		if ek == kInvalid {
			return nil, &TypeMismatchError{RequestedType: rt.String(), BranchType: b.ItemTypeName()}
		}
		it.shape, it.elemKind = shapeSlice, ek
		return it, nil
	default:
		ek := scalarKindOf(rt)
		if ek == kInvalid {
			return nil, &TypeMismatchError{RequestedType: rt.String(), BranchType: b.ItemTypeName()}
		}
		it.shape, it.elemKind = shapeScalar, ek
		return it, nil
	}
}

// All returns the sequence of decoded values. Each range over it is
// forward-only and starts a fresh walk of the branch's baskets from the first
// basket (a new Chunks() sequence each time), so ranging again yields every
// value again from the beginning.
func (it *Iter[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for chunk, err := range it.branch.Chunks() {
			if err != nil {
				yield(zero, err)
				return
			}
			var ok bool
			switch {
			case it.shape == shapeString:
				ok = it.emitStrings(chunk, yield)
			case chunk.Kind == IrregularSized:
				ok = it.emitIrregular(chunk, yield)
			default:
				ok = it.emitRegular(chunk, yield)
			}
			if !ok {
				return
			}
		}
	}
}

func (it *Iter[T]) emitRegular(chunk Chunk, yield func(T, error) bool) bool {
	var zero T
	switch it.shape {
	case shapeScalar:
		want := scalarSize(it.elemKind)
		if chunk.Stride != want {
			yield(zero, &TypeMismatchError{
				BranchType:    fmt.Sprintf("stride=%d", chunk.Stride),
				RequestedType: it.rt.String(),
			})
			return false
		}
		for off := int32(0); off+want <= int32(len(chunk.Bytes)); off += want {
			v := decodeScalar(it.elemKind, chunk.Bytes[off:off+want]).Convert(it.rt).Interface().(T)
			if !yield(v, nil) {
				return false
			}
		}
		return true

	case shapeArray:
		elemSize := scalarSize(it.elemKind)
		want := elemSize * int32(it.arrayLen)
		if chunk.Stride != want {
			yield(zero, &TypeMismatchError{
				BranchType:    fmt.Sprintf("stride=%d", chunk.Stride),
				RequestedType: it.rt.String(),
			})
			return false
		}
		for off := int32(0); off+want <= int32(len(chunk.Bytes)); off += want {
			v := it.decodeArray(chunk.Bytes[off : off+want])
			if !yield(v, nil) {
				return false
			}
		}
		return true

	default:
		yield(zero, &TypeMismatchError{BranchType: fmt.Sprintf("stride=%d", chunk.Stride), RequestedType: it.rt.String()})
		return false
	}
}

func (it *Iter[T]) emitIrregular(chunk Chunk, yield func(T, error) bool) bool {
	var zero T
	if it.shape != shapeSlice {
		yield(zero, &TypeMismatchError{BranchType: "irregular", RequestedType: it.rt.String()})
		return false
	}
	elemSize := scalarSize(it.elemKind)
	for _, rec := range chunk.Records {
		v, err := it.decodeSlice(rec, elemSize)
		if err != nil {
			yield(zero, err)
			return false
		}
		if !yield(v, nil) {
			return false
		}
	}
	return true
}

func (it *Iter[T]) decodeArray(b []byte) T {
	elemSize := scalarSize(it.elemKind)
	arr := reflect.New(it.rt).Elem()
	for i := 0; i < it.arrayLen; i++ {
		off := int32(i) * elemSize
		v := decodeScalar(it.elemKind, b[off:off+elemSize]).Convert(it.rt.Elem())
		arr.Index(i).Set(v)
	}
	return arr.Interface().(T)
}

func (it *Iter[T]) decodeSlice(rec []byte, elemSize int32) (T, error) {
	var zero T
	if len(rec) < 4 {
		return zero, fmt.Errorf("rtree: slice record too short for its length prefix")
	}
	n := int32(binary.BigEndian.Uint32(rec[:4]))
	data := rec[4:]
	if int64(n)*int64(elemSize) > int64(len(data)) {
		return zero, fmt.Errorf("rtree: slice record declares %d elements, only %d bytes available", n, len(data))
	}
	sl := reflect.MakeSlice(it.rt, int(n), int(n))
	for i := int32(0); i < n; i++ {
		off := i * elemSize
		v := decodeScalar(it.elemKind, data[off:off+elemSize]).Convert(it.rt.Elem())
		sl.Index(int(i)).Set(v)
	}
	return sl.Interface().(T), nil
}

// emitStrings parses string records: a one-byte length (escaping to a
// 4-byte length when that byte is 255, matching rbytes.ReadString's
// convention) followed by that many UTF-8 bytes. RegularSized chunks pack
// several such records back to back; IrregularSized chunks have already
// isolated one record per string.
func (it *Iter[T]) emitStrings(chunk Chunk, yield func(T, error) bool) bool {
	var zero T
	decodeOne := func(b []byte) (string, int, error) {
		if len(b) < 1 {
			return "", 0, fmt.Errorf("rtree: truncated string record")
		}
		n := int(b[0])
		hdrLen := 1
		if b[0] == 255 {
			if len(b) < 5 {
				return "", 0, fmt.Errorf("rtree: truncated long string header")
			}
			n = int(binary.BigEndian.Uint32(b[1:5]))
			hdrLen = 5
		}
		if len(b) < hdrLen+n {
			return "", 0, fmt.Errorf("rtree: truncated string body")
		}
		return string(b[hdrLen : hdrLen+n]), hdrLen + n, nil
	}

	if chunk.Kind == IrregularSized {
		for _, rec := range chunk.Records {
			s, _, err := decodeOne(rec)
			if err != nil {
				yield(zero, err)
				return false
			}
			if !yield(reflect.ValueOf(s).Convert(it.rt).Interface().(T), nil) {
				return false
			}
		}
		return true
	}

	b := chunk.Bytes
	for len(b) > 0 {
		s, n, err := decodeOne(b)
		if err != nil {
			yield(zero, err)
			return false
		}
		if !yield(reflect.ValueOf(s).Convert(it.rt).Interface().(T), nil) {
			return false
		}
		b = b[n:]
	}
	return true
}
