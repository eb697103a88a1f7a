//go:build vips

package imagecodec

// The AVIF engine registers itself with the built-in engine list.
import _ "github.com/Skryldev/imagecodec/adapters/vips"
