package realtime

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims carried by the platform bearer credential.
// the token is validated server side; locally it is only decoded to key
// presence identity and display the signed-in user.
type ByJwt struct {
	UserId   Id
	UserName string
	Email    string
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	} else if sub, ok := claims["sub"]; ok {
		if userId, err := ParseId(sub.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"]; ok {
		byJwt.UserName = userName.(string)
	}
	if email, ok := claims["email"]; ok {
		byJwt.Email = email.(string)
	}

	return byJwt, nil
}
