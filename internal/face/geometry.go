package face

import "image"

// IoU is the intersection over union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	if union <= 0 {
		return 0
	}
	return ia / union
}

// bestOverlap returns the index of the candidate that overlaps target most, or -1 if none do.
func bestOverlap(target image.Rectangle, candidates []image.Rectangle) int {
	best, bestIoU := -1, 0.0
	for i, c := range candidates {
		if v := IoU(target, c); v > bestIoU {
			best, bestIoU = i, v
		}
	}
	return best
}
