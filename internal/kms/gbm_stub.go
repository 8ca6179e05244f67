//go:build !(linux && cgo && gbm)

package kms

// NewGBMSwapchain is only available in builds with the gbm tag.
func NewGBMSwapchain(card Card, width, height int) (Swapchain, error) {
	return nil, ErrNoSwapchain
}
