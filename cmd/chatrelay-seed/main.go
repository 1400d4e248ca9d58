package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"chatrelay/pkg/auth"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
	"chatrelay/pkg/utils"
)

// Seeds users and channels into a chatrelay database for local
// development. With -key it also prints signed tokens the seeded users
// can authenticate with.
func main() {
	db := flag.String("db", "./data", "path to database directory")
	users := flag.String("users", "", "comma-separated user display names to create")
	channels := flag.String("channels", "", "comma-separated channel names to create")
	key := flag.String("key", "", "signing key; when set, a token is printed per user")
	flag.Parse()
	logger.Init()

	st, err := store.Open(*db)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, name := range splitList(*users) {
		u := models.User{ID: utils.GenUserID(), Name: name}
		if err := st.SaveUser(ctx, u); err != nil {
			log.Fatalf("save user %s: %v", name, err)
		}
		if *key != "" {
			fmt.Printf("user %-16s id=%s token=%s\n", name, u.ID, auth.Sign(u.ID, *key))
		} else {
			fmt.Printf("user %-16s id=%s\n", name, u.ID)
		}
	}
	for _, name := range splitList(*channels) {
		ch := models.Channel{ID: utils.GenChannelID(), Name: name}
		if err := st.SaveChannel(ctx, ch); err != nil {
			log.Fatalf("save channel %s: %v", name, err)
		}
		fmt.Printf("channel %-13s id=%s\n", name, ch.ID)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
