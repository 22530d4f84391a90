// Package asm assembles the textual script format into bytecode modules.
//
// A source file is a sequence of directives and instructions:
//
//	.file main.js
//	.func main vars=x,f
//	  .stmt 1 1
//	  const 1
//	  store x
//	  .stmt 2 1
//	  closure inc
//	  store f
//	  .func inc params=1 vars=n lazy
//	    .stmt 3 3
//	    load n
//	    const 1
//	    add
//	    ret
//	  .end
//	  ...
//	.end
//
// Functions nest lexically; `load`/`store` resolve names through the
// enclosing functions and emit environment hops as needed. Labels end in a
// colon, `.try start end handler` declares a try region and `.stmt`/`.loc`
// set the source position of the following instructions (`.stmt` also opens
// a new statement).
package asm
