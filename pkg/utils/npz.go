package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"
	"gonum.org/v1/gonum/mat"
)

// ErrMissingArray is returned when an .npz archive lacks a requested array.
var ErrMissingArray = errors.New("array not found in npz archive")

// npzKey finds the archive member for name, with or without the .npy
// suffix numpy adds.
func npzKey(r *npz.Reader, name string) (string, error) {
	want := strings.TrimSuffix(name, ".npy")
	for _, k := range r.Keys() {
		if strings.TrimSuffix(k, ".npy") == want {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrMissingArray, want)
}

// NPZKeys lists the array names of an archive without the .npy suffix.
func NPZKeys(path string) ([]string, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()
	keys := make([]string, 0, len(r.Keys()))
	for _, k := range r.Keys() {
		keys = append(keys, strings.TrimSuffix(k, ".npy"))
	}
	sort.Strings(keys)
	return keys, nil
}

// ReadNPZMatrix reads a 1-D or 2-D float array as a matrix. 1-D arrays
// become a single row.
func ReadNPZMatrix(path, name string) (*mat.Dense, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()
	return readMatrix(r, name)
}

// ReadNPZMatrices reads every array of an archive as a matrix.
func ReadNPZMatrices(path string) (map[string]*mat.Dense, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer r.Close()
	out := make(map[string]*mat.Dense, len(r.Keys()))
	for _, k := range r.Keys() {
		m, err := readMatrix(r, k)
		if err != nil {
			return nil, err
		}
		out[strings.TrimSuffix(k, ".npy")] = m
	}
	return out, nil
}

func readMatrix(r *npz.Reader, name string) (*mat.Dense, error) {
	key, err := npzKey(r, name)
	if err != nil {
		return nil, err
	}
	shape := r.Header(key).Descr.Shape
	rows, cols := 1, 1
	switch len(shape) {
	case 0:
	case 1:
		cols = shape[0]
	case 2:
		rows, cols = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("%s: %d-D array, want at most 2-D", key, len(shape))
	}
	data, err := readFloats(r, key)
	if err != nil {
		return nil, err
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("%s: %d values for shape %v", key, len(data), shape)
	}
	if rows*cols == 0 {
		return &mat.Dense{}, nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// readFloats reads a float64 array, falling back to float32 storage.
func readFloats(r *npz.Reader, key string) ([]float64, error) {
	var f64 []float64
	if err := r.Read(key, &f64); err == nil {
		return f64, nil
	}
	var f32 []float32
	if err := r.Read(key, &f32); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]float64, len(f32))
	for i, v := range f32 {
		out[i] = float64(v)
	}
	return out, nil
}

// ReadNPZFloats reads a 1-D float array.
func ReadNPZFloats(r *npz.Reader, name string) ([]float64, error) {
	key, err := npzKey(r, name)
	if err != nil {
		return nil, err
	}
	return readFloats(r, key)
}

// ReadNPZInts reads a 1-D integer array stored as int64 or int32.
func ReadNPZInts(r *npz.Reader, name string) ([]int, error) {
	key, err := npzKey(r, name)
	if err != nil {
		return nil, err
	}
	var i64 []int64
	if err := r.Read(key, &i64); err == nil {
		out := make([]int, len(i64))
		for i, v := range i64 {
			out[i] = int(v)
		}
		return out, nil
	}
	var i32 []int32
	if err := r.Read(key, &i32); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]int, len(i32))
	for i, v := range i32 {
		out[i] = int(v)
	}
	return out, nil
}

// NPZArray is one named array to write.
type NPZArray struct {
	Name  string
	Value interface{}
}

// WriteNPZ writes arrays to path. Names get the .npy suffix numpy expects.
func WriteNPZ(path string, arrays ...NPZArray) error {
	w, err := npz.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for _, a := range arrays {
		name := a.Name
		if !strings.HasSuffix(name, ".npy") {
			name += ".npy"
		}
		if err := w.Write(name, a.Value); err != nil {
			w.Close()
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// WriteNPZMatrices writes every matrix under its name, sorted by name.
func WriteNPZMatrices(path string, arrays map[string]*mat.Dense) error {
	names := make([]string, 0, len(arrays))
	for k := range arrays {
		names = append(names, k)
	}
	sort.Strings(names)
	list := make([]NPZArray, 0, len(names))
	for _, k := range names {
		list = append(list, NPZArray{Name: k, Value: arrays[k]})
	}
	return WriteNPZ(path, list...)
}
