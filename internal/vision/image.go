package vision

import (
	"image"
	"image/draw"
)

var (
	detMean = [3]float32{127.5, 127.5, 127.5}
	detStd  = [3]float32{128, 128, 128}
	embMean = [3]float32{127.5, 127.5, 127.5}
	embStd  = [3]float32{127.5, 127.5, 127.5}
)

// toCHW resizes img to w x h and lays it out as normalised planar RGB:
// (pixel - mean) / std.
func toCHW(img image.Image, w, h int, mean, std [3]float32) []float32 {
	src := resizeNearest(img, w, h)
	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			i := y*w + x
			out[i] = (float32(px[0]) - mean[0]) / std[0]
			out[plane+i] = (float32(px[1]) - mean[1]) / std[1]
			out[2*plane+i] = (float32(px[2]) - mean[2]) / std[2]
		}
	}
	return out
}

// resizeNearest is a nearest-neighbour resize, enough for model input.
func resizeNearest(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	src := toRGBA(img)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := y * b.Dy() / h
		for x := 0; x < w; x++ {
			sx := x * b.Dx() / w
			si := sy*src.Stride + sx*4
			di := y*dst.Stride + x*4
			copy(dst.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// cropFace cuts the box plus 10% padding on each side, clamped to the frame.
// Returns nil for an empty box.
func cropFace(img image.Image, box [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(box[0]), int(box[1]), int(box[2]), int(box[3])).Intersect(b)
	if r.Empty() {
		return nil
	}
	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}
