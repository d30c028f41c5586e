package validator

import (
	"testing"

	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestStruct_OptionTag(t *testing.T) {
	Setup()

	assert.Nil(t, Struct(&model.SelectAnswerRequest{Option: "c"}))

	fields := Struct(&model.SelectAnswerRequest{Option: "E"})
	assert.Equal(t, "option must be one of A, B, C or D", fields["option"])

	fields = Struct(&model.SelectAnswerRequest{})
	assert.Contains(t, fields, "option")
}

func TestStruct_NavigateRequiresIndex(t *testing.T) {
	Setup()

	fields := Struct(&model.NavigateRequest{})
	assert.Contains(t, fields, "index")

	zero := 0
	assert.Nil(t, Struct(&model.NavigateRequest{Index: &zero}))
}
