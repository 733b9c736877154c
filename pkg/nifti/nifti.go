// Package nifti reads and writes NIfTI-1 volumes, the on-disk format
// every external tool in the pipeline speaks. Reads handle both
// endiannesses, gzip compression, the common scalar datatypes, and the
// 5-D vector layout registration solvers use for dense warp fields.
//
// Header layout follows the official nifti1.h definition.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"lesionflow/pkg/imaging"
)

// ErrNotNIfTI reports a file that is not a single-file NIfTI-1 image
var ErrNotNIfTI = errors.New("nifti: not a NIfTI-1 file")

// header is the 348-byte NIfTI-1 header.
type header struct {
	SizeofHdr     int32
	DataType      [10]int8
	DBName        [18]int8
	Extents       int32
	SessionError  int16
	Regular       int8
	DimInfo       int8
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XyztUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]int8
	AuxFile       [24]int8
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]int8
	Magic         [4]int8
}

const (
	headerSize = 348
	voxOffset  = 352

	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtUint16  = 512
)

// IsNIfTIPath reports whether the path has a NIfTI file extension
func IsNIfTIPath(path string) bool {
	return strings.HasSuffix(path, ".nii") || strings.HasSuffix(path, ".nii.gz")
}

// open returns a reader for the (possibly gzipped) file
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nifti: %s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, f}, nil
}

// readHeader decodes the header, detecting byte order from dim[0],
// which must land in [1,7] when read with the correct endianness.
func readHeader(r io.Reader) (header, binary.ByteOrder, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return header{}, nil, fmt.Errorf("%w: short header: %v", ErrNotNIfTI, err)
	}
	var h header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return header{}, nil, err
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return header{}, nil, err
		}
		if h.Dim[0] < 1 || h.Dim[0] > 7 {
			return header{}, nil, fmt.Errorf("%w: dim[0]=%d under both byte orders", ErrNotNIfTI, h.Dim[0])
		}
	}
	if h.SizeofHdr != headerSize {
		return header{}, nil, fmt.Errorf("%w: sizeof_hdr=%d", ErrNotNIfTI, h.SizeofHdr)
	}
	if !(h.Magic == [4]int8{'n', '+', '1', 0}) {
		return header{}, nil, fmt.Errorf("%w: magic is not n+1 (data must live in the header file)", ErrNotNIfTI)
	}
	return h, order, nil
}

// readVoxels decodes count voxels of the header's datatype into
// float64, applying the scl slope/intercept scaling when present.
func readVoxels(r io.Reader, h header, order binary.ByteOrder, count int) ([]float64, error) {
	out := make([]float64, count)
	var err error
	switch h.Datatype {
	case dtUint8:
		buf := make([]uint8, count)
		if _, err = io.ReadFull(r, buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case dtInt16:
		buf := make([]int16, count)
		if err = binary.Read(r, order, buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case dtUint16:
		buf := make([]uint16, count)
		if err = binary.Read(r, order, buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case dtInt32:
		buf := make([]int32, count)
		if err = binary.Read(r, order, buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case dtFloat32:
		buf := make([]float32, count)
		if err = binary.Read(r, order, buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case dtFloat64:
		if err = binary.Read(r, order, out); err != nil {
			break
		}
	default:
		return nil, fmt.Errorf("nifti: unsupported datatype %d", h.Datatype)
	}
	if err != nil {
		return nil, fmt.Errorf("nifti: reading voxel data: %w", err)
	}
	if h.SclSlope != 0 && (h.SclSlope != 1 || h.SclInter != 0) {
		slope, inter := float64(h.SclSlope), float64(h.SclInter)
		for i := range out {
			out[i] = out[i]*slope + inter
		}
	}
	return out, nil
}

// geometry derives spacing, origin and direction from the header. The
// sform affine is authoritative when present; otherwise pixdim spacing
// with an identity orientation is assumed.
func geometry(h header) (spacing, origin [3]float64, direction [3][3]float64, err error) {
	if h.SformCode > 0 {
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for c := 0; c < 3; c++ {
			var norm float64
			for r := 0; r < 3; r++ {
				norm += float64(rows[r][c]) * float64(rows[r][c])
			}
			norm = math.Sqrt(norm)
			if norm == 0 {
				return spacing, origin, direction, fmt.Errorf("%w: degenerate sform column %d", imaging.ErrBadGeometry, c)
			}
			spacing[c] = norm
			for r := 0; r < 3; r++ {
				direction[r][c] = float64(rows[r][c]) / norm
			}
		}
		origin = [3]float64{float64(h.SrowX[3]), float64(h.SrowY[3]), float64(h.SrowZ[3])}
		return spacing, origin, direction, nil
	}
	for i := 0; i < 3; i++ {
		spacing[i] = float64(h.Pixdim[i+1])
	}
	direction = imaging.IdentityDirection()
	return spacing, origin, direction, nil
}

// skipTo advances the reader to the voxel data offset
func skipTo(r io.Reader, h header) error {
	skip := int64(h.VoxOffset) - headerSize
	if skip < 0 {
		return fmt.Errorf("%w: vox_offset %g before end of header", ErrNotNIfTI, h.VoxOffset)
	}
	_, err := io.CopyN(io.Discard, r, skip)
	return err
}

// Read loads a scalar 3-D volume. The returned image carries the
// Intensity kind and an empty frame; callers relabel with WithKind and
// WithFrame according to what the file holds.
func Read(path string) (*imaging.Image, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h, order, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dims := [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	for d := 4; d <= int(h.Dim[0]); d++ {
		if h.Dim[d] > 1 {
			return nil, fmt.Errorf("nifti: %s: %d-dimensional volume, want scalar 3-D (use ReadDisplacement for warp fields)", path, h.Dim[0])
		}
	}
	if err := skipTo(r, h); err != nil {
		return nil, fmt.Errorf("nifti: %s: %w", path, err)
	}
	data, err := readVoxels(r, h, order, dims[0]*dims[1]*dims[2])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	spacing, origin, direction, err := geometry(h)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return imaging.New(data, dims, spacing, origin, direction, imaging.Intensity, "")
}

// ReadDisplacement loads a dense warp field stored in the 5-D vector
// layout (dim = [5, nx, ny, nz, 1, 3]) and returns its three
// displacement components as scalar volumes on the field's grid.
func ReadDisplacement(path string) ([3]*imaging.Image, error) {
	var comp [3]*imaging.Image

	r, err := open(path)
	if err != nil {
		return comp, err
	}
	defer r.Close()

	h, order, err := readHeader(r)
	if err != nil {
		return comp, fmt.Errorf("%s: %w", path, err)
	}
	if h.Dim[0] != 5 || h.Dim[4] != 1 || h.Dim[5] != 3 {
		return comp, fmt.Errorf("nifti: %s: dim %v is not a displacement field layout", path, h.Dim)
	}
	dims := [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])}
	n := dims[0] * dims[1] * dims[2]

	if err := skipTo(r, h); err != nil {
		return comp, fmt.Errorf("nifti: %s: %w", path, err)
	}
	data, err := readVoxels(r, h, order, n*3)
	if err != nil {
		return comp, fmt.Errorf("%s: %w", path, err)
	}
	spacing, origin, direction, err := geometry(h)
	if err != nil {
		return comp, fmt.Errorf("%s: %w", path, err)
	}
	for c := 0; c < 3; c++ {
		img, err := imaging.New(data[c*n:(c+1)*n], dims, spacing, origin, direction, imaging.Intensity, "")
		if err != nil {
			return comp, err
		}
		comp[c] = img
	}
	return comp, nil
}

// Write stores the image as a little-endian float32 single-file NIfTI,
// gzipped when the path ends in .gz. The image geometry is written as
// the sform affine.
func Write(path string, img *imaging.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	dims := img.Dims()
	spacing := img.Spacing()
	origin := img.Origin()
	direction := img.Direction()

	h := header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{3, int16(dims[0]), int16(dims[1]), int16(dims[2]), 1, 1, 1, 1},
		Datatype:  dtFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 0, 0, 0, 0},
		VoxOffset: voxOffset,
		SclSlope:  1,
		XyztUnits: 2, // NIFTI_UNITS_MM
		SformCode: 1, // NIFTI_XFORM_SCANNER_ANAT
		Magic:     [4]int8{'n', '+', '1', 0},
	}
	for c := 0; c < 3; c++ {
		h.SrowX[c] = float32(direction[0][c] * spacing[c])
		h.SrowY[c] = float32(direction[1][c] * spacing[c])
		h.SrowZ[c] = float32(direction[2][c] * spacing[c])
	}
	h.SrowX[3] = float32(origin[0])
	h.SrowY[3] = float32(origin[1])
	h.SrowZ[3] = float32(origin[2])

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("nifti: writing header: %w", err)
	}
	// 4 pad bytes: no header extensions
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]float32, len(img.Data()))
	for i, v := range img.Data() {
		buf[i] = float32(v)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("nifti: writing voxels: %w", err)
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return nil
}
