package cache

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// Keyer lets a params type choose its own cache key.
type Keyer interface {
	CacheKey() string
}

// Hasher computes the cache key of a params value.
type Hasher func(v any) (string, error)

var (
	keyerType         = reflect.TypeOf((*Keyer)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// type tags written ahead of every value so that, for example, the int 1 and
// the string "1" never encode the same way.
const (
	tagNil    = 'n'
	tagBool   = 'b'
	tagInt    = 'i'
	tagUint   = 'u'
	tagFloat  = 'f'
	tagCmplx  = 'c'
	tagString = 's'
	tagList   = 'l'
	tagMap    = 'm'
	tagStruct = 'o'
	tagText   = 't'
)

// Hash returns a canonical structural hash of v.
//
// Map entries are ordered by their encoded key and struct fields by name, so
// values holding the same key/value pairs hash identically however they were
// built. Pointers and interfaces are followed. Every struct field counts,
// exported or not, except fields tagged `cache:"-"`. Values implementing Keyer
// or encoding.TextMarshaler are represented by that text. Functions, channels
// and cyclic pointers yield ErrUnhashable.
func Hash(v any) (string, error) {
	rv := reflect.ValueOf(v)
	if rv.IsValid() {
		// An addressable copy lets unexported fields reach their methods.
		root := reflect.New(rv.Type()).Elem()
		root.Set(rv)
		rv = root
	}

	var buf bytes.Buffer
	e := encoder{seen: make(map[uintptr]bool)}
	if err := e.encode(&buf, rv); err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(buf.Bytes()), 16), nil
}

type encoder struct {
	seen map[uintptr]bool
}

func (e *encoder) encode(buf *bytes.Buffer, v reflect.Value) error {
	if !v.IsValid() {
		buf.WriteByte(tagNil)
		return nil
	}
	if !v.CanInterface() && v.CanAddr() {
		v = reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
	}

	if v.Type().Implements(keyerType) && v.CanInterface() && !isNilPointer(v) {
		writeText(buf, v.Interface().(Keyer).CacheKey())
		return nil
	}
	if v.Type().Implements(textMarshalerType) && v.CanInterface() && !isNilPointer(v) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnhashable, err)
		}
		writeText(buf, string(text))
		return nil
	}

	var scratch [8]byte
	switch v.Kind() {
	case reflect.Bool:
		buf.WriteByte(tagBool)
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteByte(tagInt)
		binary.BigEndian.PutUint64(scratch[:], uint64(v.Int()))
		buf.Write(scratch[:])

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteByte(tagUint)
		binary.BigEndian.PutUint64(scratch[:], v.Uint())
		buf.Write(scratch[:])

	case reflect.Float32, reflect.Float64:
		buf.WriteByte(tagFloat)
		f := v.Float()
		if f == 0 {
			f = 0 // fold -0 into +0
		}
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(f))
		buf.Write(scratch[:])

	case reflect.Complex64, reflect.Complex128:
		buf.WriteByte(tagCmplx)
		c := v.Complex()
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(real(c)))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint64(scratch[:], math.Float64bits(imag(c)))
		buf.Write(scratch[:])

	case reflect.String:
		buf.WriteByte(tagString)
		writeLen(buf, v.Len())
		buf.WriteString(v.String())

	case reflect.Slice:
		if v.IsNil() {
			buf.WriteByte(tagNil)
			return nil
		}
		return e.encodeList(buf, v)

	case reflect.Array:
		return e.encodeList(buf, v)

	case reflect.Map:
		if v.IsNil() {
			buf.WriteByte(tagNil)
			return nil
		}
		return e.encodeMap(buf, v)

	case reflect.Struct:
		return e.encodeStruct(buf, v)

	case reflect.Pointer:
		if v.IsNil() {
			buf.WriteByte(tagNil)
			return nil
		}
		ptr := v.Pointer()
		if e.seen[ptr] {
			return fmt.Errorf("%w: cycle through %s", ErrUnhashable, v.Type())
		}
		e.seen[ptr] = true
		defer delete(e.seen, ptr)
		return e.encode(buf, v.Elem())

	case reflect.Interface:
		if v.IsNil() {
			buf.WriteByte(tagNil)
			return nil
		}
		return e.encode(buf, v.Elem())

	default:
		return fmt.Errorf("%w: %s", ErrUnhashable, v.Type())
	}
	return nil
}

func (e *encoder) encodeList(buf *bytes.Buffer, v reflect.Value) error {
	buf.WriteByte(tagList)
	writeLen(buf, v.Len())
	for i := 0; i < v.Len(); i++ {
		if err := e.encode(buf, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

type encodedEntry struct {
	key   []byte
	value []byte
}

func (e *encoder) encodeMap(buf *bytes.Buffer, v reflect.Value) error {
	entries := make([]encodedEntry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var kb, vb bytes.Buffer
		if err := e.encode(&kb, iter.Key()); err != nil {
			return err
		}
		if err := e.encode(&vb, iter.Value()); err != nil {
			return err
		}
		entries = append(entries, encodedEntry{key: kb.Bytes(), value: vb.Bytes()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	buf.WriteByte(tagMap)
	writeLen(buf, len(entries))
	for _, en := range entries {
		buf.Write(en.key)
		buf.Write(en.value)
	}
	return nil
}

func (e *encoder) encodeStruct(buf *bytes.Buffer, v reflect.Value) error {
	t := v.Type()
	fields := make([]int, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Tag.Get("cache") == "-" {
			continue
		}
		fields = append(fields, i)
	}
	sort.Slice(fields, func(a, b int) bool {
		return t.Field(fields[a]).Name < t.Field(fields[b]).Name
	})

	buf.WriteByte(tagStruct)
	writeLen(buf, len(fields))
	for _, i := range fields {
		name := t.Field(i).Name
		writeLen(buf, len(name))
		buf.WriteString(name)
		if err := e.encode(buf, v.Field(i)); err != nil {
			return err
		}
	}
	return nil
}

func writeText(buf *bytes.Buffer, s string) {
	buf.WriteByte(tagText)
	writeLen(buf, len(s))
	buf.WriteString(s)
}

func writeLen(buf *bytes.Buffer, n int) {
	var scratch [binary.MaxVarintLen64]byte
	buf.Write(scratch[:binary.PutUvarint(scratch[:], uint64(n))])
}

func isNilPointer(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
