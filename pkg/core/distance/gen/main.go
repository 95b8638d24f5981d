// Command gen emits the AVX2 assembly kernel for the float32 squared
// Euclidean distance. Run via go:generate in the parent package; the output
// is only linked into builds carrying the avo tag.
package main

import (
	. "github.com/mmcloughlin/avo/build"
	. "github.com/mmcloughlin/avo/operand"
	reg "github.com/mmcloughlin/avo/reg"
)

func main() {
	TEXT("SquaredL2AVX2", NOSPLIT, "func(a, b []float32) float32")
	Pragma("noescape")
	Doc("SquaredL2AVX2 computes the squared Euclidean distance between two float32 vectors using AVX2 FMA.")
	generateSquaredL2()
	Generate()
}

func generateSquaredL2() {
	aPtr := Load(Param("a").Base(), GP64())
	bPtr := Load(Param("b").Base(), GP64())
	n := Load(Param("a").Len(), GP64())

	sumVec := YMM()
	VXORPS(sumVec, sumVec, sumVec)

	Label("loop8")
	CMPQ(n, Imm(8))
	JL(LabelRef("remainder"))

	av := YMM()
	bv := YMM()
	VMOVUPS(Mem{Base: aPtr}, av)
	VMOVUPS(Mem{Base: bPtr}, bv)

	diff := YMM()
	VSUBPS(bv, av, diff)
	VFMADD231PS(diff, diff, sumVec)

	ADDQ(Imm(32), aPtr)
	ADDQ(Imm(32), bPtr)
	SUBQ(Imm(8), n)
	JMP(LabelRef("loop8"))

	Label("remainder")
	CMPQ(n, Imm(0))
	JE(LabelRef("done"))

	as := XMM()
	bs := XMM()
	VMOVSS(Mem{Base: aPtr}, as)
	VMOVSS(Mem{Base: bPtr}, bs)

	ds := XMM()
	VSUBSS(bs, as, ds)

	sq := XMM()
	VXORPS(sq, sq, sq)
	VFMADD231SS(ds, ds, sq)

	tmp := YMM()
	VMOVDQU(sq.AsY(), tmp)
	VADDPS(tmp, sumVec, sumVec)

	ADDQ(Imm(4), aPtr)
	ADDQ(Imm(4), bPtr)
	SUBQ(Imm(1), n)
	JMP(LabelRef("remainder"))

	Label("done")
	sumHorizontal(sumVec)

	ret := XMM()
	VMOVAPS(sumVec.AsX(), ret)
	Store(ret, ReturnIndex(0))
	RET()
}

// sumHorizontal folds the 8 float32 lanes of a YMM register into lane 0.
func sumHorizontal(vec reg.Register) {
	h1 := YMM()
	VEXTRACTF128(Imm(1), vec, h1.AsX())
	VADDPS(vec, h1, vec)

	h2 := YMM()
	VSHUFPS(Imm(0b11101110), vec, vec, h2)
	VADDPS(h2, vec, vec)

	h3 := YMM()
	VSHUFPS(Imm(0b01010101), vec, vec, h3)
	VADDPS(h3, vec, vec)
}
