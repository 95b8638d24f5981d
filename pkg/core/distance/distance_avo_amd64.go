//go:build avo && amd64

package distance

import (
	"log"

	"github.com/klauspost/cpuid/v2"
)

// SquaredL2AVX2 is emitted by ./gen into distance_avo.s.
//
//go:generate go run ./gen -stubs ./stubs_avo.go -out ./distance_avo.s

func init() {
	if cpuid.CPU.Has(cpuid.AVX2) {
		squaredL2Impl = SquaredL2AVX2
		log.Println("semdex compute engine: AVX2 assembly kernel enabled for squared L2")
	}
}
