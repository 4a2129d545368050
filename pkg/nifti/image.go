package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"ccsnr/internal/models"
)

// Image is a decoded NIfTI-1 file.
type Image struct {
	Header Header

	// Volume holds the scaled intensities; 3D images have Nt == 1
	Volume *models.Volume4D

	// Affine maps voxel indices to scanner coordinates
	Affine models.Affine
}

// ReadBytes returns the contents of a file, inflating it if it is
// gzip compressed.
func ReadBytes(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if len(content) < 2 || content[0] != 0x1f || content[1] != 0x8b {
		return content, nil
	}

	g, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("error inflating %s: %w", path, err)
	}
	defer g.Close()

	inflated, err := io.ReadAll(g)
	if err != nil {
		return nil, fmt.Errorf("error inflating %s: %w", path, err)
	}
	return inflated, nil
}

// Read loads a .nii or .nii.gz file.
func Read(path string) (*Image, error) {
	b, err := ReadBytes(path)
	if err != nil {
		return nil, err
	}
	img, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return img, nil
}

// Decode parses an uncompressed single-file NIfTI-1 image.
func Decode(b []byte) (*Image, error) {
	h, order, err := ReadHeader(b)
	if err != nil {
		return nil, err
	}

	// Dimensions above dim[0] are treated as 1
	var dims [4]int
	for i := range dims {
		dims[i] = 1
		if i+1 <= int(h.Dim[0]) && h.Dim[i+1] > 0 {
			dims[i] = int(h.Dim[i+1])
		}
	}
	for i := 5; i <= int(h.Dim[0]); i++ {
		if h.Dim[i] > 1 {
			return nil, fmt.Errorf("images with more than 4 dimensions are not supported")
		}
	}

	offset := headerSize
	if int(h.VoxOffset) > offset {
		offset = int(h.VoxOffset)
	}

	if offset > len(b) {
		return nil, fmt.Errorf("voxel offset %d beyond end of file (%d bytes)", offset, len(b))
	}

	// Check the header's size against the file before allocating from it
	bpv, _ := bytesPerVoxel(h.DataType)
	available := int64(len(b) - offset)
	nvox := int64(1)
	for _, d := range dims {
		nvox *= int64(d)
	}
	if nvox > available/int64(bpv) {
		return nil, fmt.Errorf("image data truncated: %dx%dx%dx%d voxels of %d bytes need more than the %d bytes after offset %d",
			dims[0], dims[1], dims[2], dims[3], bpv, available, offset)
	}

	vol := models.NewVolume4D(dims[0], dims[1], dims[2], dims[3])
	dataSize := len(vol.Data) * bpv

	decodeData(b[offset:offset+dataSize], h.DataType, order, vol.Data)

	slope, inter := float64(h.SclSlope), float64(h.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		for i, v := range vol.Data {
			vol.Data[i] = slope*v + inter
		}
	}

	return &Image{Header: h, Volume: vol, Affine: affineOf(h)}, nil
}

func decodeData(raw []byte, dataType int16, order binary.ByteOrder, dst []float64) {
	for i := range dst {
		switch dataType {
		case dtUint8:
			dst[i] = float64(raw[i])
		case dtInt8:
			dst[i] = float64(int8(raw[i]))
		case dtInt16:
			dst[i] = float64(int16(order.Uint16(raw[2*i:])))
		case dtUint16:
			dst[i] = float64(order.Uint16(raw[2*i:]))
		case dtInt32:
			dst[i] = float64(int32(order.Uint32(raw[4*i:])))
		case dtUint32:
			dst[i] = float64(order.Uint32(raw[4*i:]))
		case dtFloat32:
			dst[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		case dtFloat64:
			dst[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
	}
}

// affineOf prefers the sform, then the qform, and falls back to the
// voxel sizes.
func affineOf(h Header) models.Affine {
	if h.SFormCode > 0 {
		a := models.IdentityAffine()
		for j := 0; j < 4; j++ {
			a[0][j] = float64(h.SRowX[j])
			a[1][j] = float64(h.SRowY[j])
			a[2][j] = float64(h.SRowZ[j])
		}
		return a
	}
	if h.QFormCode > 0 {
		return qformAffine(h)
	}

	a := models.IdentityAffine()
	for i := 0; i < 3; i++ {
		if d := float64(h.PixDim[i+1]); d > 0 {
			a[i][i] = d
		}
	}
	return a
}

// qformAffine builds the affine from the quaternion, voxel sizes and
// offsets. pixdim[0] carries the handedness of the z axis.
func qformAffine(h Header) models.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation, renormalize b, c, d
		n := math.Sqrt(b*b + c*c + d*d)
		if n > 0 {
			b, c, d = b/n, c/n, d/n
		}
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	rot := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}

	var zooms [3]float64
	for i := range zooms {
		zooms[i] = float64(h.PixDim[i+1])
		if zooms[i] <= 0 {
			zooms[i] = 1
		}
	}
	if h.PixDim[0] < 0 {
		zooms[2] = -zooms[2]
	}

	aff := models.IdentityAffine()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			aff[i][j] = rot[i][j] * zooms[j]
		}
	}
	aff[0][3] = float64(h.QOffsetX)
	aff[1][3] = float64(h.QOffsetY)
	aff[2][3] = float64(h.QOffsetZ)
	return aff
}

// ReadMask loads a 3D image and marks every non-zero voxel.
func ReadMask(path string) (*models.Mask, error) {
	img, err := Read(path)
	if err != nil {
		return nil, err
	}
	vol := img.Volume
	if vol.Nt != 1 {
		return nil, fmt.Errorf("mask %s has %d volumes, want 1", path, vol.Nt)
	}

	mask := models.NewMask(vol.Nx, vol.Ny, vol.Nz)
	for i, v := range vol.Data {
		mask.Data[i] = v != 0
	}
	return mask, nil
}

// Write stores vol as float32, gzip compressed if path ends in .gz.
func Write(path string, vol *models.Volume4D, affine models.Affine) error {
	h := newHeader([4]int{vol.Nx, vol.Ny, vol.Nz, vol.Nt}, dtFloat32, affine)

	raw := make([]byte, 4*len(vol.Data))
	for i, v := range vol.Data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(v)))
	}
	return writeFile(path, h, raw)
}

// WriteMask stores mask as uint8 zeros and ones.
func WriteMask(path string, mask *models.Mask, affine models.Affine) error {
	h := newHeader([4]int{mask.Nx, mask.Ny, mask.Nz, 1}, dtUint8, affine)

	raw := make([]byte, len(mask.Data))
	for i, set := range mask.Data {
		if set {
			raw[i] = 1
		}
	}
	return writeFile(path, h, raw)
}

func newHeader(dims [4]int, dataType int16, affine models.Affine) Header {
	h := Header{
		SizeOfHdr: minHeaderSize,
		DataType:  dataType,
		VoxOffset: headerSize,
		SclSlope:  1,
		SFormCode: 1,
		Magic:     singleFileMagic,
	}
	bpv, _ := bytesPerVoxel(dataType)
	h.BitPix = int16(8 * bpv)

	h.Dim[0] = 3
	if dims[3] > 1 {
		h.Dim[0] = 4
	}
	h.PixDim[0] = 1
	for i, d := range dims {
		h.Dim[i+1] = int16(d)
	}
	for i := 0; i < 3; i++ {
		col := math.Sqrt(affine[0][i]*affine[0][i] + affine[1][i]*affine[1][i] + affine[2][i]*affine[2][i])
		h.PixDim[i+1] = float32(col)
	}
	h.PixDim[4] = 1
	for j := 0; j < 4; j++ {
		h.SRowX[j] = float32(affine[0][j])
		h.SRowY[j] = float32(affine[1][j])
		h.SRowZ[j] = float32(affine[2][j])
	}
	return h
}

func writeFile(path string, h Header, raw []byte) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var w io.Writer
	buf := bufio.NewWriter(f)
	w = buf
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	// Empty extension block
	if _, err := w.Write(make([]byte, headerSize-minHeaderSize)); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("error writing image data: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return buf.Flush()
}
