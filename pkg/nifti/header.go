// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz).
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Header is the on-disk NIfTI-1 header.
//
// C     Go
// -------------
// int   int32
// float float32
// short int16
// char  int8
type Header struct {
	SizeOfHdr          int32    // Must be 348
	UnusedDataType     [10]int8 // Unused
	UnusedDbName       [18]int8 // Unused
	UnusedExtents      int32    // Unused
	UnusedSessionError int16    // Unused
	UnusedRegular      int8     // Unused
	DimInfo            int8     // MRI slice ordering

	Dim           [8]int16   // Data array dimensions
	IntentP1      float32    // 1st intent parameter
	IntentP2      float32    // 2nd intent parameter
	IntentP3      float32    // 3rd intent parameter
	IntentCode    int16      // NIFTI_INTENT_* code
	DataType      int16      // Defines data type
	BitPix        int16      // Number bits/voxel
	SliceStart    int16      // First slice index
	PixDim        [8]float32 // Grid spacing
	VoxOffset     float32    // Offset into .nii file
	SclSlope      float32    // Data scaling: slope
	SclInter      float32    // Data scaling: offset
	SliceEnd      int16      // Last slice index
	SliceCode     int8       // Slice timing order
	XYZTUnits     int8       // Units of pixdim[1..4]
	CalMax        float32    // Max display intensity
	CalMin        float32    // Min display intensity
	SliceDuration float32    // Time for 1 slice
	TOffset       float32    // Time axis shift
	UnusedGlmax   int32      // Unused
	UnusedGlmin   int32      // Unused

	Descrip [80]int8 // Any text you like
	AuxFile [24]int8 // Auxiliary filename

	QFormCode int16 // NIFTI_XFORM_* code
	SFormCode int16 // NIFTI_XFORM_* code

	QuaternB float32 // Quaternion b params
	QuaternC float32 // Quaternion c params
	QuaternD float32 // Quaternion d params
	QOffsetX float32 // Quaternion x shift
	QOffsetY float32 // Quaternion y shift
	QOffsetZ float32 // Quaternion z shift

	SRowX [4]float32 // 1st row affine transform
	SRowY [4]float32 // 2nd row affine transform
	SRowZ [4]float32 // 3rd row affine transform

	IntentName [16]int8 // 'name' or meaning of data

	Magic [4]int8 // Must be "n+1\0" for single-file images
}

const (
	headerSize    = 352
	minHeaderSize = 348
)

// NIfTI-1 datatype codes
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

var singleFileMagic = [4]int8{'n', '+', '1', 0}

// bytesPerVoxel returns the storage size of a datatype code.
func bytesPerVoxel(dataType int16) (int, error) {
	switch dataType {
	case dtUint8, dtInt8:
		return 1, nil
	case dtInt16, dtUint16:
		return 2, nil
	case dtInt32, dtUint32, dtFloat32:
		return 4, nil
	case dtFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", dataType)
}

// ReadHeader decodes the header and returns the byte order of the file,
// inferred from sizeof_hdr.
func ReadHeader(b []byte) (Header, binary.ByteOrder, error) {
	if len(b) < minHeaderSize {
		return Header{}, nil, fmt.Errorf("file too short for a NIfTI-1 header: %d bytes", len(b))
	}

	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(b), order, &h); err != nil {
		return Header{}, nil, err
	}

	if h.SizeOfHdr != minHeaderSize {
		order = binary.BigEndian
		h = Header{}
		if err := binary.Read(bytes.NewReader(b), order, &h); err != nil {
			return Header{}, nil, err
		}
	}

	if err := validateHeader(h); err != nil {
		return Header{}, nil, err
	}
	return h, order, nil
}

func validateHeader(h Header) error {
	switch {
	case h.SizeOfHdr != minHeaderSize:
		return fmt.Errorf("invalid header size %d for nifti1", h.SizeOfHdr)

	// Header and data must live in the same file
	case h.Magic != singleFileMagic:
		return fmt.Errorf("invalid file magic %v: data must be stored in same file as header", h.Magic)

	case h.Dim[0] < 1 || h.Dim[0] > 7:
		return fmt.Errorf("dim[0] = %d not in range [1, 7]", h.Dim[0])
	}

	if _, err := bytesPerVoxel(h.DataType); err != nil {
		return err
	}
	return nil
}
