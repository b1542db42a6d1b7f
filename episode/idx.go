package episode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// LoadIDX reads an MNIST-style IDX image file and its label file. Pixels are scaled to
// [0, 1] and each example has shape [1, rows, cols].
func LoadIDX(imagesPath, labelsPath string) (*Dataset, error) {
	imgFile, err := os.Open(imagesPath)
	if err != nil {
		return nil, err
	}
	defer imgFile.Close()

	lblFile, err := os.Open(labelsPath)
	if err != nil {
		return nil, err
	}
	defer lblFile.Close()

	shape, pixels, err := ReadIDXImages(imgFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", imagesPath, err)
	}
	labels, err := ReadIDXLabels(lblFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", labelsPath, err)
	}
	if len(labels)*shape[0]*shape[1]*shape[2] != len(pixels) {
		return nil, fmt.Errorf("idx: %d labels for %d pixels of shape %v", len(labels), len(pixels), shape)
	}
	return NewDataset(shape, pixels, labels)
}

// ReadIDXImages decodes an IDX3 image stream. The returned shape is per example.
func ReadIDXImages(r io.Reader) (shape []int, pixels []float64, err error) {
	var header [4]int32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, nil, fmt.Errorf("reading images header: %w", err)
	}
	magic, numImages, numRows, numCols := header[0], header[1], header[2], header[3]
	if magic != idxImagesMagic {
		return nil, nil, fmt.Errorf("invalid magic number for images file: %d", magic)
	}
	if numImages <= 0 || numRows <= 0 || numCols <= 0 {
		return nil, nil, fmt.Errorf("invalid images header: %d x %d x %d", numImages, numRows, numCols)
	}

	imageData := make([]byte, int(numImages)*int(numRows)*int(numCols))
	if _, err := io.ReadFull(r, imageData); err != nil {
		return nil, nil, fmt.Errorf("reading pixels: %w", err)
	}

	pixels = make([]float64, len(imageData))
	for i, v := range imageData {
		pixels[i] = float64(v) / 255.0
	}
	return []int{1, int(numRows), int(numCols)}, pixels, nil
}

// ReadIDXLabels decodes an IDX1 label stream.
func ReadIDXLabels(r io.Reader) ([]int, error) {
	var header [2]int32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("reading labels header: %w", err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number for labels file: %d", header[0])
	}
	if header[1] <= 0 {
		return nil, fmt.Errorf("invalid label count %d", header[1])
	}

	labelData := make([]byte, header[1])
	if _, err := io.ReadFull(r, labelData); err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}

	labels := make([]int, len(labelData))
	for i, v := range labelData {
		labels[i] = int(v)
	}
	return labels, nil
}
