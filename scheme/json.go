/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package scheme

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/cifrazia/cats-go/catserr"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonScheme struct{}

func (jsonScheme) TypeID() uint8    { return 1 }
func (jsonScheme) TypeName() string { return "json" }

func (jsonScheme) Loads(buf []byte) (any, error) {
	var data any
	if err := jsonAPI.Unmarshal(buf, &data); err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to parse JSON")
	}
	return data, nil
}

func (jsonScheme) Dumps(data any) ([]byte, error) {
	buf, err := jsonAPI.Marshal(data)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to dump JSON")
	}
	return buf, nil
}
