// Package utils holds helpers shared across piqa:
//
//   - bounded worker pools with panic recovery (concurrent.go, recovery.go)
//   - numpy .npz array I/O on gonum matrices (npz.go)
//   - parquet export of phrase indexes (parquet_writer.go)
//   - top-k ranking (vector.go)
package utils
