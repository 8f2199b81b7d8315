// Package vision extracts face embeddings from enrollment photos. Capture
// devices send pre-cropped, roughly aligned face images; there is no
// detection or tracking stage here.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"

	_ "image/png"
)

// Encoder runs an ArcFace-style ONNX model over face crops.
type Encoder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewEncoder loads the ONNX embedding model. ArcFace w600k_r50 expects
// 112x112 input and emits 512 floats.
func NewEncoder(modelPath string, embDim int) (*Encoder, error) {
	inputW, inputH := 112, 112

	inputShape := ort.NewShape(1, 3, int64(inputH), int64(inputW))
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embDim))
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create encoder session: %w", err)
	}

	return &Encoder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// EmbedImage decodes a face crop and returns a normalized embedding plus a
// crude quality score based on crop resolution.
func (e *Encoder) EmbedImage(imageData []byte) ([]float32, float32, error) {
	img, err := jpeg.Decode(bytes.NewReader(imageData))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, 0, fmt.Errorf("decode image: %w", err)
		}
	}

	bounds := img.Bounds()
	minDim := bounds.Dx()
	if bounds.Dy() < minDim {
		minDim = bounds.Dy()
	}
	quality := float32(minDim) / float32(e.inputW)
	if quality > 1 {
		quality = 1
	}

	input := imageToFloat32CHW(img, e.inputW, e.inputH,
		[3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	embedding, err := e.Extract(input)
	if err != nil {
		return nil, 0, err
	}
	return embedding, quality, nil
}

// Extract runs the model on preprocessed CHW data and L2-normalizes the
// result.
func (e *Encoder) Extract(faceData []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), faceData)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run encoder: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())

	normalize(embedding)
	return embedding, nil
}

// EmbeddingDim returns the embedding vector dimension.
func (e *Encoder) EmbeddingDim() int {
	return e.embDim
}

func (e *Encoder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

// imageToFloat32CHW converts an image to CHW float32 format with
// normalization: pixel = (pixel - mean) / std.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0] // R
			data[1*h*w+idx] = (gf - mean[1]) / std[1] // G
			data[2*h*w+idx] = (bf - mean[2]) / std[2] // B
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	if srcW == targetW && srcH == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		srcY := bounds.Min.Y + y*srcH/targetH
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}

// InitializeRuntime points onnxruntime_go at the shared library and brings
// the environment up. Call once per process before NewEncoder.
func InitializeRuntime() error {
	if path := os.Getenv("ONNXRUNTIME_LIB"); path != "" {
		ort.SetSharedLibraryPath(path)
	} else if runtime.GOOS == "darwin" {
		ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
	} else {
		ort.SetSharedLibraryPath("/usr/lib/libonnxruntime.so")
	}
	return ort.InitializeEnvironment()
}

// DestroyRuntime tears the ONNX environment down at shutdown.
func DestroyRuntime() {
	ort.DestroyEnvironment()
}
